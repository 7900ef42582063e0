/*
Package classify assigns a DocumentKind to extracted text using a
data-driven rule table.

Rules are evaluated in precedence order (explicit Priority descending,
table order breaking ties) and the first kind whose score reaches the
threshold wins. A rule scores its base only when at least one keyword
matches, adds the matched fraction of required patterns times 50, adds
5 per bonus pattern, and subtracts 50 per negative pattern. Scores
normalize to a confidence capped at 0.95, so keyword evidence alone
never reports certainty.

Two recognizers run outside the table: IsSystemNotification inspects
the envelope sender and subject before any scoring and wins outright
at confidence 0.99, and ForceKind maps items that stayed unknown
through every phase onto a definite kind for delivery.

The built-in table (DefaultRules) covers the closed kind set; Load
reads a replacement table from YAML for tuning without a rebuild.
*/
package classify
