// Package merge deduplicates correspondents on the document service.
//
// Years of inconsistent sender names leave the service with entries
// like "Aukro", "aukro.cz" and "AUKRO s.r.o." holding slices of the
// same counterparty's documents. The merger groups correspondents by
// their normalized key, keeps the member with the most documents,
// repoints the others' documents at it and deletes the emptied
// duplicates. The kept correspondent is renamed to the curated display
// name when one exists.
//
// Plan and Execute are separate so the default invocation is a dry
// run; nothing mutates the service until the caller passes the plan to
// Execute.
package merge
