package dist

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrImageNotFound indicates the requested image doesn't exist.
var ErrImageNotFound = errors.New("image not found")

// ImageStore persists serialized images in SQLite, keyed by their entry
// hash.
type ImageStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenImageStore opens (creating if needed) the image database at
// dbPath.
func OpenImageStore(dbPath string) (*ImageStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &ImageStore{db: db, dbPath: dbPath}, nil
}

// Close releases the database handle.
func (s *ImageStore) Close() error {
	return s.db.Close()
}

// Save stores an image under its entry hash. Saving the same image
// twice refreshes the stored bytes.
func (s *ImageStore) Save(img *Image) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := MarshalImage(img)
	if err != nil {
		return "", fmt.Errorf("marshaling image: %w", err)
	}
	name := ""
	for _, ch := range img.Chunks {
		if ch.Hash == img.Entry {
			name = ch.Name
			break
		}
	}
	_, err = s.db.Exec(
		`INSERT INTO images (hash, name, data) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET name = excluded.name, data = excluded.data`,
		img.Entry, name, data)
	if err != nil {
		return "", fmt.Errorf("saving image %s: %w", img.Entry, err)
	}
	return img.Entry, nil
}

// Load fetches the image stored under hash.
func (s *ImageStore) Load(hash string) (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow(`SELECT data FROM images WHERE hash = ?`, hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading image %s: %w", hash, ErrImageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading image %s: %w", hash, err)
	}
	return UnmarshalImage(data)
}

// List returns the hash and name of every stored image.
func (s *ImageStore) List() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT hash, name FROM images ORDER BY hash`)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var hash, name string
		if err := rows.Scan(&hash, &name); err != nil {
			return nil, fmt.Errorf("listing images: %w", err)
		}
		out[hash] = name
	}
	return out, rows.Err()
}

// Delete removes the image stored under hash.
func (s *ImageStore) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM images WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("deleting image %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting image %s: %w", hash, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting image %s: %w", hash, ErrImageNotFound)
	}
	return nil
}
