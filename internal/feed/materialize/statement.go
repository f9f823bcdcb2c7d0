package materialize

import "fmt"

// cursorName is the server-side cursor the subscription is declared on and
// fetched from.
const cursorName = "c"

// BuildSubscribe produces the DECLARE statement for the subscription cursor.
// With a resume timestamp the feed starts strictly after it and skips the
// snapshot; without one it begins with a full snapshot. Both modes request
// progress markers and the upsert envelope keyed on the "key" column.
func BuildSubscribe(query string, resumeFrom *uint64) string {
	if resumeFrom != nil {
		return fmt.Sprintf(
			"DECLARE %s CURSOR FOR SUBSCRIBE (%s) WITH (PROGRESS) AS OF %d ENVELOPE UPSERT (KEY (key))",
			cursorName, query, *resumeFrom)
	}
	return fmt.Sprintf(
		"DECLARE %s CURSOR FOR SUBSCRIBE (%s) WITH (SNAPSHOT, PROGRESS) ENVELOPE UPSERT (KEY (key))",
		cursorName, query)
}
