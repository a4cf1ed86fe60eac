// Package content manages the lifecycle of the site content tree.
//
// The core components are:
//   - [Tree]: an immutable index of [Item]s by path with ordered child lists
//   - [Manager]: stores the active [Snapshot] using atomic.Pointer for lock-free reads
//   - [TreeStore]: Exists/GetByPath/Children against one pinned [Tree]
//   - [Loader]: downloads, checksums and optionally signature-checks documents from S3/SSM
//   - [Watcher]: polls SSM for hash changes and hot-swaps snapshots into the Manager
//   - [FileWatcher]: reloads a local document on change
//
// Documents are JSON, YAML or TOML; see [Decode].
package content
