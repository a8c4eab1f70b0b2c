// Package pkgfsd provides a high-level client API for the pkgfsd daemon.
//
// It is the integration point for package managers: it allocates a
// transaction, stages package files into it, commits the change and cleans
// up afterwards.
//
// # Concurrency Safety
//
// A Client is safe for concurrent use. The daemon serializes commits per
// root; a commit racing another change of the same installation location
// fails with E_CHANGE_COUNT_MISMATCH or E_INSTALLATION_LOCATION_BUSY and
// can be retried after refreshing the location info.
//
// # Usage
//
//	client, err := pkgfsd.Connect("/run/pkgfsd/pkgfsd.sock", pkgfsd.Options{})
//	defer client.Close()
//	res, err := client.Install(ctx, pkgfsd.InstallOptions{
//	    Location: model.MountTypeHome,
//	    Files:    []string{"/tmp/app-1.0-1.hpkg"},
//	})
package pkgfsd
