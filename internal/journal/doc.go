// Package journal keeps a local history of link and session state changes
// and diagnostics snapshots in SQLite.
//
// Writes come from supervisor callbacks, which run inside the tick and
// must not wait on disk. Writer accepts records on a bounded channel and
// stores them from a background goroutine; when the channel is full the
// record is dropped and counted.
//
//	repo := journal.NewSQLiteRepository(db)
//	w := journal.NewWriter(repo, deviceID, cfg.Journal.BufferSize, log)
//	defer w.Close()
//
//	manager.SetLinkCallback(func(from, to connectivity.State, err connectivity.ErrorCode) {
//	    w.Transition(journal.LayerLink, from.String(), to.String(), err.String(), manager.LinkRetryCount(), time.Now())
//	})
package journal
