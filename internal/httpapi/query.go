package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"
)

func parseMeasurementsQuery(r *http.Request) (field string, from, to time.Time, limit int, err error) {
	q := r.URL.Query()

	field = q.Get("field")
	if field == "" {
		return "", time.Time{}, time.Time{}, 0, errors.New("missing 'field'")
	}

	if s := q.Get("from"); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return "", time.Time{}, time.Time{}, 0, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	to = time.Now().UTC()
	if s := q.Get("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return "", time.Time{}, time.Time{}, 0, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	if !from.IsZero() && from.After(to) {
		return "", time.Time{}, time.Time{}, 0, errors.New("'from' must be <= 'to'")
	}

	limit = 100
	if s := q.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return "", time.Time{}, time.Time{}, 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return "", time.Time{}, time.Time{}, 0, errors.New("'limit' must be > 0")
		}
		if n > 1000 {
			return "", time.Time{}, time.Time{}, 0, errors.New("'limit' must be <= 1000")
		}
		limit = n
	}

	return field, from, to, limit, nil
}
