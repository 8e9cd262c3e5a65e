package db

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a single attempt of some database write.
type Operation func() error

// IsDuplicateKeyError decides whether an error is worth retrying as a
// key collision.
type IsDuplicateKeyError func(err error) bool

const DefaultMaxRetries = 3

// Try runs op with the default retry policy: up to DefaultMaxRetries extra
// attempts, retrying only on MongoDB duplicate key errors. Inserts that
// generate a random ID use this to ride out the rare collision.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsMongoDuplicateKeyError)
}

// WithRetries runs op up to 1+maxRetries times. Errors that isDuplicateKey
// rejects abort immediately; collisions back off incrementally before the
// next attempt.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if !isDuplicateKey(err) {
			return err
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// IsMongoDuplicateKeyError reports whether err is a MongoDB duplicate key
// error, in any of the shapes the driver surfaces them (write, bulk write or
// command errors).
func IsMongoDuplicateKeyError(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
