// Package backup downloads panel databases.
//
// Executor backs up a single host: it logs in with the backup profile, requests the remembered
// export path first and falls back to full discovery when that path no longer serves a valid
// database. Every confirmed path is written back to the registry.
//
// FleetRunner walks the registry one host at a time. A failing host is recorded in the
// RunReport and the run moves on; each artifact is handed to an optional sink (the archive)
// and an optional Reporter (the notifier) before its temporary file is removed.
//
//	runner := backup.NewFleetRunner(backup.FleetConfig{
//		Hosts:    registry,
//		Executor: executor,
//		Sink:     archiver,
//		Reporter: dispatcher,
//	})
//	report, err := runner.Run(ctx, backup.RunOptions{Trigger: backup.TriggerManual})
package backup
