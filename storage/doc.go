// Package storage provides persistence for the guardian recovery system: a
// SQLite record store for guardian setups, guardians, and recovery requests,
// and a content-addressed blob store with pluggable backends for sealed
// fragment envelopes and archived requests.
//
// # Record Store
//
// SQLiteStore implements interfaces.Store on a single SQLite database
// (modernc.org/sqlite, WAL mode). Recovery request rows carry a version
// counter; UpdateRequest and AppendApproval are conditional on the caller's
// expected version and fail with ErrVersionConflict when the row moved, which
// keeps approval recording and terminal transitions atomic per request.
//
// # Blob Store
//
// Sealed fragment envelopes and request archives are stored content-addressed:
// the identifier is the SHA-256 hash of the data. Fragments and archives live
// in separate namespaces (interfaces.FragmentType, interfaces.ArchiveType).
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - memory://label
//   - file:///var/lib/recovery/fragments/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://ipfs.example.com:5001/
//   - vault://TOKEN@vault.example.com:8200/secret/guardian-recovery?tls=true
//
// # Multi-Backend Storage
//
// MultiStorageBackend aggregates multiple backends for redundancy:
//
//   - Store: writes to all available backends
//   - Fetch: tries each backend until content is found
//   - Available: true if any backend is available
//
// A fragment envelope written through a multi-backend survives the loss of
// any single replica, which matters more here than in most systems: a lost
// fragment is a permanently weakened recovery threshold.
//
// # Usage Example
//
//	factory := storage.NewFactory(logger)
//
//	location, err := interfaces.NewStorageBackendLocation("file:///var/lib/recovery/")
//	if err != nil {
//	    log.Fatalf("Invalid location: %v", err)
//	}
//
//	backend, err := factory.StorageBackendFor(location)
//	if err != nil {
//	    log.Fatalf("Failed to create backend: %v", err)
//	}
//
//	id, err := backend.Store(context.Background(), envelope, interfaces.FragmentType)
//	if err != nil {
//	    log.Fatalf("Failed to store fragment: %v", err)
//	}
//
//	data, err := backend.Fetch(context.Background(), id, interfaces.FragmentType)
//	if err != nil {
//	    log.Fatalf("Failed to fetch fragment: %v", err)
//	}
package storage
