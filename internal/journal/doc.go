// Package journal records completed deliveries in the SQLite publications
// table.
//
// Each envelope published to the broker and each inbound envelope written
// to a local sink gets one row tagged with the process run id. The journal
// is an audit trail only: rows are never read back to replay data, and old
// rows are pruned at startup after the configured retention.
package journal
