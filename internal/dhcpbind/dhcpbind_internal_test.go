package dhcpbind

import "time"

// testValid is the common valid lifetime for tests.
const testValid = time.Hour

// testStart is the common current time for tests.
var testStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
