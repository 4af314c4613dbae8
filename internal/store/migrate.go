package store

// Migrate creates every table this layer owns if it does not already
// exist, and adds the foreign keys that enforce referential integrity
// between blocks, transactions, and their child rows at the storage
// layer.
func (s *Store) Migrate() error {
	db := s.db
	if err := db.AutoMigrate(
		&Block{},
		&Transaction{},
		&Input{},
		&Output{},
		&Asset{},
		&MiningReward{},
		&AddressStats{},
		&SyncStatus{},
	).Error; err != nil {
		return err
	}

	fks := []struct{ table, fk, ref string }{
		{"transactions", "block_id", "blocks(id)"},
		{"inputs", "tx_id", "transactions(id)"},
		{"outputs", "tx_id", "transactions(id)"},
		{"outputs", "spent_by_tx_id", "transactions(id)"},
		{"assets", "box_id", "outputs(box_id)"},
		{"mining_rewards", "block_id", "blocks(id)"},
	}
	for _, fk := range fks {
		// AddForeignKey is a no-op (and logs, not fails) if the
		// constraint already exists under gorm v1's mysql dialect.
		db.Table(fk.table).AddForeignKey(fk.fk, fk.ref, "RESTRICT", "RESTRICT")
	}
	return nil
}

// Reset drops every table this layer owns and recreates the schema.
// Honors RESET_DB / the `reset-db` subcommand.
func (s *Store) Reset() error {
	db := s.db
	if err := db.DropTableIfExists(
		&Asset{},
		&Input{},
		&Output{},
		&Transaction{},
		&MiningReward{},
		&Block{},
		&AddressStats{},
		&SyncStatus{},
	).Error; err != nil {
		return err
	}
	return s.Migrate()
}
