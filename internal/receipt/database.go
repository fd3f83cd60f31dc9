package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptsBucket     = "receipts"
	transactionsBucket = "transactions"
)

// BoltDB implements Store on an embedded BoltDB file. Receipts are keyed by
// a time-ordered id; a second bucket maps transaction ids to receipt ids.
type BoltDB struct {
	db  *bbolt.DB
	ids IDGenerator
}

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	return NewBoltDBWithIDs(path, uuidV7Generator{})
}

// NewBoltDBWithIDs opens the database with a custom id generator for testing.
// Ids must sort in creation order for List to return newest first.
func NewBoltDBWithIDs(path string, ids IDGenerator) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(transactionsBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, ids: ids}, nil
}

// Save stores a new receipt document
func (b *BoltDB) Save(_ context.Context, doc *Document) (string, error) {
	id := b.ids.Generate()
	txID := []byte(doc.TransactionInfo.TransactionID)

	err := b.db.Update(func(tx *bbolt.Tx) error {
		transactions := tx.Bucket([]byte(transactionsBucket))
		if existing := transactions.Get(txID); existing != nil {
			return fmt.Errorf("%w: %s (receipt %s)", ErrDuplicateTransaction, txID, existing)
		}

		stored := *doc
		stored.ID = id
		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := tx.Bucket([]byte(receiptsBucket)).Put([]byte(id), data); err != nil {
			return err
		}
		return transactions.Put(txID, []byte(id))
	})
	if err != nil {
		return "", err
	}

	doc.ID = id
	return id, nil
}

// Get retrieves a receipt document by id
func (b *BoltDB) Get(_ context.Context, id string) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// List walks the bucket backwards so the newest receipts come first
func (b *BoltDB) List(_ context.Context, skip, limit int) ([]*Document, error) {
	docs := make([]*Document, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(receiptsBucket)).Cursor()
		n := 0
		for k, v := c.Last(); k != nil && len(docs) < limit; k, v = c.Prev() {
			if n < skip {
				n++
				continue
			}
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshaling receipt %s: %w", k, err)
			}
			docs = append(docs, &doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (b *BoltDB) Count(_ context.Context) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(receiptsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Delete removes a receipt and frees its transaction id
func (b *BoltDB) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		receipts := tx.Bucket([]byte(receiptsBucket))
		data := receipts.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		if err := tx.Bucket([]byte(transactionsBucket)).Delete([]byte(doc.TransactionInfo.TransactionID)); err != nil {
			return err
		}
		return receipts.Delete([]byte(id))
	})
}

func (b *BoltDB) HealthCheck(_ context.Context) bool {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(receiptsBucket)) == nil {
			return fmt.Errorf("missing bucket")
		}
		return nil
	}) == nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
