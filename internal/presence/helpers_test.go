package presence

import "time"

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
