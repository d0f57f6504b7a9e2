package treestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tonimelisma/treesync/internal/node"
)

// persistUpsert and persistRemove wrap their *Tx counterparts in their own
// explicit transaction, used by the non-batch entry points
// (UpsertSingleNode/RemoveSingleNode).

func (s *Store) persistUpsert(ctx context.Context, n node.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("treestore: beginning upsert transaction: %w", err)
	}

	if err := s.persistUpsertTx(ctx, tx, n); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("treestore: committing upsert: %w", err)
	}

	return nil
}

func (s *Store) persistRemove(ctx context.Context, n node.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("treestore: beginning remove transaction: %w", err)
	}

	if err := s.persistRemoveTx(ctx, tx, n.Ident().NodeUID); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("treestore: committing remove: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func (s *Store) persistUpsertTx(ctx context.Context, tx *sql.Tx, n node.Node) error {
	switch v := n.(type) {
	case *node.LocalDir:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO local_dir (node_uid, parent_uid, path, trashed, live, all_children_fetched)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(node_uid) DO UPDATE SET
				parent_uid = excluded.parent_uid, path = excluded.path,
				trashed = excluded.trashed, live = excluded.live,
				all_children_fetched = excluded.all_children_fetched`,
			v.Identifier.NodeUID, v.ParentUID, firstPath(v),
			boolToInt(v.Trashed), boolToInt(v.Live), boolToInt(v.AllChildrenFetched))
		if err != nil {
			return fmt.Errorf("treestore: upserting local_dir: %w", err)
		}

	case *node.LocalFile:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO local_file (node_uid, parent_uid, path, content_uid, modify_ts, change_ts, trashed, live)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(node_uid) DO UPDATE SET
				parent_uid = excluded.parent_uid, path = excluded.path,
				content_uid = excluded.content_uid, modify_ts = excluded.modify_ts,
				change_ts = excluded.change_ts, trashed = excluded.trashed, live = excluded.live`,
			v.Identifier.NodeUID, v.ParentUID, firstPath(v), v.Content,
			v.ModifyTS, v.ChangeTS, boolToInt(v.Trashed), boolToInt(v.Live))
		if err != nil {
			return fmt.Errorf("treestore: upserting local_file: %w", err)
		}

	case *node.GDriveFolder:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO goog_folder (node_uid, goog_id, name, trashed, create_ts, modify_ts, owner_uid, drive_id, shared, all_children_fetched)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(node_uid) DO UPDATE SET
				goog_id = excluded.goog_id, name = excluded.name, trashed = excluded.trashed,
				modify_ts = excluded.modify_ts, shared = excluded.shared,
				all_children_fetched = excluded.all_children_fetched`,
			v.Identifier.NodeUID, v.GoogID, v.Name, boolToInt(v.Trashed),
			v.CreateTS, v.ModifyTS, v.OwnerUID, v.DriveID, boolToInt(v.Shared), boolToInt(v.AllChildrenFetched))
		if err != nil {
			return fmt.Errorf("treestore: upserting goog_folder: %w", err)
		}

		if err := s.persistParentMappingsTx(ctx, tx, v.Identifier.NodeUID, v.Parents); err != nil {
			return err
		}

	case *node.GDriveFile:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO goog_file (node_uid, goog_id, name, content_uid, mime_type_uid, version, trashed, create_ts, modify_ts, owner_uid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(node_uid) DO UPDATE SET
				goog_id = excluded.goog_id, name = excluded.name, content_uid = excluded.content_uid,
				version = excluded.version, trashed = excluded.trashed, modify_ts = excluded.modify_ts`,
			v.Identifier.NodeUID, v.GoogID, v.Name, v.Content, v.MimeTypeUID,
			v.Version, boolToInt(v.Trashed), v.CreateTS, v.ModifyTS, v.OwnerUID)
		if err != nil {
			return fmt.Errorf("treestore: upserting goog_file: %w", err)
		}

		if err := s.persistParentMappingsTx(ctx, tx, v.Identifier.NodeUID, v.Parents); err != nil {
			return err
		}

	default:
		return fmt.Errorf("treestore: cannot persist display-only node type %T", n)
	}

	return nil
}

func (s *Store) persistParentMappingsTx(ctx context.Context, tx *sql.Tx, nodeUID uint64, parents []uint64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM goog_id_parent_mappings WHERE node_uid = ?`, nodeUID); err != nil {
		return fmt.Errorf("treestore: clearing parent mappings: %w", err)
	}

	for _, parentUID := range parents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO goog_id_parent_mappings (node_uid, parent_uid) VALUES (?, ?)`,
			nodeUID, parentUID); err != nil {
			return fmt.Errorf("treestore: inserting parent mapping: %w", err)
		}
	}

	return nil
}

func (s *Store) persistRemoveTx(ctx context.Context, tx *sql.Tx, uid uint64) error {
	tables := []string{"local_dir", "local_file", "goog_folder", "goog_file"}

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE node_uid = ?`, table), uid); err != nil {
			return fmt.Errorf("treestore: removing node %d from %s: %w", uid, table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM goog_id_parent_mappings WHERE node_uid = ?`, uid); err != nil {
		return fmt.Errorf("treestore: removing node %d parent mappings: %w", uid, err)
	}

	return nil
}

func (s *Store) loadLocalDirs(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT node_uid, parent_uid, path, trashed, live, all_children_fetched FROM local_dir`)
	if err != nil {
		return fmt.Errorf("treestore: loading local_dir: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uid, parentUID uint64
		var path string
		var trashed, live, allFetched int

		if err := rows.Scan(&uid, &parentUID, &path, &trashed, &live, &allFetched); err != nil {
			return fmt.Errorf("treestore: scanning local_dir row: %w", err)
		}

		n := &node.LocalDir{
			Identifier:         node.Identifier{DeviceUID: s.deviceUID, NodeUID: uid, PathList: []string{path}},
			ParentUID:          parentUID,
			Trashed:            trashed != 0,
			Live:               live != 0,
			AllChildrenFetched: allFetched != 0,
		}

		s.indexLocked(n)
	}

	return rows.Err()
}

func (s *Store) loadLocalFiles(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT node_uid, parent_uid, path, content_uid, modify_ts, change_ts, trashed, live FROM local_file`)
	if err != nil {
		return fmt.Errorf("treestore: loading local_file: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uid, parentUID, contentUID uint64
		var path string
		var modifyTS, changeTS int64
		var trashed, live int

		if err := rows.Scan(&uid, &parentUID, &path, &contentUID, &modifyTS, &changeTS, &trashed, &live); err != nil {
			return fmt.Errorf("treestore: scanning local_file row: %w", err)
		}

		n := &node.LocalFile{
			Identifier: node.Identifier{DeviceUID: s.deviceUID, NodeUID: uid, PathList: []string{path}},
			ParentUID:  parentUID,
			Content:    contentUID,
			ModifyTS:   modifyTS,
			ChangeTS:   changeTS,
			Trashed:    trashed != 0,
			Live:       live != 0,
		}

		s.indexLocked(n)
	}

	return rows.Err()
}

func (s *Store) loadGoogFolders(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT node_uid, goog_id, name, trashed, create_ts, modify_ts, owner_uid, drive_id, shared, all_children_fetched FROM goog_folder`)
	if err != nil {
		return fmt.Errorf("treestore: loading goog_folder: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uid, ownerUID uint64
		var googID, name, driveID string
		var trashed, shared, allFetched int
		var createTS, modifyTS int64

		if err := rows.Scan(&uid, &googID, &name, &trashed, &createTS, &modifyTS, &ownerUID, &driveID, &shared, &allFetched); err != nil {
			return fmt.Errorf("treestore: scanning goog_folder row: %w", err)
		}

		parents, err := s.loadParentMappings(ctx, uid)
		if err != nil {
			return err
		}

		n := &node.GDriveFolder{
			Identifier:         node.Identifier{DeviceUID: s.deviceUID, NodeUID: uid},
			Parents:            parents,
			GoogID:             googID,
			Name:               name,
			Trashed:            trashed != 0,
			CreateTS:           createTS,
			ModifyTS:           modifyTS,
			OwnerUID:           ownerUID,
			DriveID:            driveID,
			Shared:             shared != 0,
			AllChildrenFetched: allFetched != 0,
		}

		s.indexLocked(n)
	}

	return rows.Err()
}

func (s *Store) loadGoogFiles(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT node_uid, goog_id, name, content_uid, mime_type_uid, version, trashed, create_ts, modify_ts, owner_uid FROM goog_file`)
	if err != nil {
		return fmt.Errorf("treestore: loading goog_file: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uid, contentUID, mimeUID, ownerUID uint64
		var googID, name string
		var version, createTS, modifyTS int64
		var trashed int

		if err := rows.Scan(&uid, &googID, &name, &contentUID, &mimeUID, &version, &trashed, &createTS, &modifyTS, &ownerUID); err != nil {
			return fmt.Errorf("treestore: scanning goog_file row: %w", err)
		}

		parents, err := s.loadParentMappings(ctx, uid)
		if err != nil {
			return err
		}

		n := &node.GDriveFile{
			Identifier:  node.Identifier{DeviceUID: s.deviceUID, NodeUID: uid},
			Parents:     parents,
			GoogID:      googID,
			Name:        name,
			Content:     contentUID,
			MimeTypeUID: mimeUID,
			Version:     version,
			Trashed:     trashed != 0,
			CreateTS:    createTS,
			ModifyTS:    modifyTS,
			OwnerUID:    ownerUID,
		}

		s.indexLocked(n)
	}

	return rows.Err()
}

func (s *Store) loadParentMappings(ctx context.Context, nodeUID uint64) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT parent_uid FROM goog_id_parent_mappings WHERE node_uid = ?`, nodeUID)
	if err != nil {
		return nil, fmt.Errorf("treestore: loading parent mappings for %d: %w", nodeUID, err)
	}
	defer rows.Close()

	var parents []uint64

	for rows.Next() {
		var p uint64
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("treestore: scanning parent mapping: %w", err)
		}

		parents = append(parents, p)
	}

	return parents, rows.Err()
}
