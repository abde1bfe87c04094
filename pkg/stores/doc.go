// Package stores provides run history persistence for cellxform.
// It includes a SQLite store with embedded migrations, WAL mode for file
// databases, and operations for runs and their progress events. A Recorder
// connects a store to the engine as an Observer.
package stores
