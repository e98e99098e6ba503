package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FocuswithJustin/annotsv/core/cas"
	"github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS document (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		text TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sentence (
		doc_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		sent_id TEXT NOT NULL,
		source_text TEXT NOT NULL,
		PRIMARY KEY (doc_id, idx)
	);
	CREATE TABLE IF NOT EXISTS token (
		doc_id TEXT NOT NULL,
		ann_id INTEGER NOT NULL,
		sentence INTEGER NOT NULL,
		begin_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		lemma_id INTEGER,
		pos_id INTEGER,
		PRIMARY KEY (doc_id, ann_id)
	);
	CREATE TABLE IF NOT EXISTS span (
		doc_id TEXT NOT NULL,
		ann_id INTEGER NOT NULL,
		layer TEXT NOT NULL,
		begin_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		slot INTEGER NOT NULL,
		PRIMARY KEY (doc_id, ann_id)
	);
	CREATE TABLE IF NOT EXISTS relation (
		doc_id TEXT NOT NULL,
		ann_id INTEGER NOT NULL,
		layer TEXT NOT NULL,
		begin_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		governor INTEGER,
		dependent INTEGER,
		PRIMARY KEY (doc_id, ann_id)
	);
	CREATE TABLE IF NOT EXISTS feature (
		doc_id TEXT NOT NULL,
		ann_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (doc_id, ann_id, name)
	);
`

var tables = []string{"feature", "relation", "span", "token", "sentence", "document"}

// now is the clock used for saved_at; tests replace it.
var now = time.Now

// Store keeps document snapshots in a SQLite database.
type Store struct {
	db *sql.DB
}

// DocumentInfo summarizes a stored document.
type DocumentInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Sentences int       `json:"sentences"`
	Tokens    int       `json:"tokens"`
	SavedAt   time.Time `json:"saved_at"`
}

// OpenStore opens (creating if needed) a snapshot database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, errors.NewIO("migrate", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDocument writes a snapshot of doc, replacing any earlier snapshot with the same ID.
func (s *Store) SaveDocument(ctx context.Context, doc *cas.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteRows(ctx, tx, doc.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO document (id, title, text, saved_at) VALUES (?, ?, ?, ?)",
		doc.ID, doc.Title, doc.Text(), now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, sent := range doc.Sentences() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sentence (doc_id, idx, sent_id, source_text) VALUES (?, ?, ?, ?)",
			doc.ID, sent.Index, sent.ID, sent.SourceText); err != nil {
			return fmt.Errorf("insert sentence %d: %w", sent.Index, err)
		}
	}
	for _, tok := range doc.Tokens() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO token (doc_id, ann_id, sentence, begin_offset, end_offset, lemma_id, pos_id) VALUES (?, ?, ?, ?, ?, ?, ?)",
			doc.ID, tok.ID, tok.Sentence, tok.Begin, tok.End, spanRef(tok.Lemma), spanRef(tok.POS)); err != nil {
			return fmt.Errorf("insert token %d: %w", tok.ID, err)
		}
	}

	for _, layer := range doc.Layers() {
		for _, sp := range doc.Spans(layer) {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO span (doc_id, ann_id, layer, begin_offset, end_offset, slot) VALUES (?, ?, ?, ?, ?, ?)",
				doc.ID, sp.ID, layer.Name, sp.Begin, sp.End, sp.Slot); err != nil {
				return fmt.Errorf("insert span %d: %w", sp.ID, err)
			}
			if err := insertFeatures(ctx, tx, doc.ID, sp.ID, sp.Features()); err != nil {
				return err
			}
		}
		for _, rel := range doc.Relations(layer) {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO relation (doc_id, ann_id, layer, begin_offset, end_offset, governor, dependent) VALUES (?, ?, ?, ?, ?, ?, ?)",
				doc.ID, rel.ID, layer.Name, rel.Begin, rel.End, endpointRef(rel.Governor), endpointRef(rel.Dependent)); err != nil {
				return fmt.Errorf("insert relation %d: %w", rel.ID, err)
			}
			if err := insertFeatures(ctx, tx, doc.ID, rel.ID, rel.Features()); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadDocument rebuilds a stored document against ts (typesystem.Default() when nil).
// Annotation IDs are reassigned; offsets, features and endpoints are preserved.
func (s *Store) LoadDocument(ctx context.Context, id string, ts *typesystem.TypeSystem) (*cas.Document, error) {
	var title, text string
	err := s.db.QueryRowContext(ctx, "SELECT title, text FROM document WHERE id = ?", id).Scan(&title, &text)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("document", id)
	}
	if err != nil {
		return nil, err
	}

	doc := cas.NewDocument(id, ts)
	doc.Title = title
	l := &loader{doc: doc, text: text, endpoints: make(map[int]cas.Endpoint)}
	steps := []func(context.Context, *sql.DB) error{l.tokens, l.spans, l.relations}
	for _, step := range steps {
		if err := step(ctx, s.db); err != nil {
			return nil, err
		}
	}
	if doc.Text() != text {
		return nil, errors.NewValidation("text", fmt.Sprintf("document %s does not rebuild from its tokens", id))
	}
	return doc, doc.Validate()
}

// ListDocuments returns the stored documents ordered by ID.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.saved_at,
			(SELECT COUNT(*) FROM sentence WHERE doc_id = d.id),
			(SELECT COUNT(*) FROM token WHERE doc_id = d.id)
		FROM document d ORDER BY d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		var saved string
		if err := rows.Scan(&info.ID, &info.Title, &saved, &info.Sentences, &info.Tokens); err != nil {
			return nil, err
		}
		info.SavedAt, _ = time.Parse(time.RFC3339, saved)
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteDocument removes a snapshot. Deleting a missing ID is a NotFoundError.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document WHERE id = ?", id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFound("document", id)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteRows(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteRows(ctx context.Context, tx *sql.Tx, id string) error {
	for _, table := range tables {
		col := "doc_id"
		if table == "document" {
			col = "id"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, col), id); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}

func insertFeatures(ctx context.Context, tx *sql.Tx, docID string, annID int, features map[string]string) error {
	for name, value := range features {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO feature (doc_id, ann_id, name, value) VALUES (?, ?, ?, ?)",
			docID, annID, name, value); err != nil {
			return fmt.Errorf("insert feature %s of %d: %w", name, annID, err)
		}
	}
	return nil
}

func spanRef(sp *cas.Span) sql.NullInt64 {
	if sp == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(sp.ID), Valid: true}
}

func endpointRef(e cas.Endpoint) sql.NullInt64 {
	if e == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(e.AnnotationID()), Valid: true}
}

// loader replays a snapshot into a fresh document, mapping stored IDs to new annotations.
type loader struct {
	doc       *cas.Document
	text      string
	endpoints map[int]cas.Endpoint
	attrs     []tokenAttrs
}

type tokenAttrs struct {
	tok        *cas.Token
	lemma, pos sql.NullInt64
}

func (l *loader) tokens(ctx context.Context, db *sql.DB) error {
	meta := make(map[int][2]string)
	rows, err := db.QueryContext(ctx, "SELECT idx, sent_id, source_text FROM sentence WHERE doc_id = ?", l.doc.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var idx int
		var id, src string
		if err := rows.Scan(&idx, &id, &src); err != nil {
			rows.Close()
			return err
		}
		meta[idx] = [2]string{id, src}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.QueryContext(ctx,
		"SELECT ann_id, sentence, begin_offset, end_offset, lemma_id, pos_id FROM token WHERE doc_id = ? ORDER BY begin_offset",
		l.doc.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	current := 0
	for rows.Next() {
		var annID, sentence, begin, end int
		var a tokenAttrs
		if err := rows.Scan(&annID, &sentence, &begin, &end, &a.lemma, &a.pos); err != nil {
			return err
		}
		if begin < 0 || end > len(l.text) || begin >= end {
			return errors.NewValidation("token", fmt.Sprintf("stored token %d has range [%d,%d)", annID, begin, end))
		}
		if sentence != current {
			l.doc.CloseSentence()
			current = sentence
			m := meta[sentence]
			l.doc.SetSentenceMetadata(m[0], m[1])
		}
		tok, err := l.doc.AppendToken(l.text[begin:end])
		if err != nil {
			return err
		}
		a.tok = tok
		l.attrs = append(l.attrs, a)
		l.endpoints[annID] = tok
	}
	l.doc.CloseSentence()
	return rows.Err()
}

func (l *loader) spans(ctx context.Context, db *sql.DB) error {
	features, err := l.features(ctx, db)
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT ann_id, layer, begin_offset, end_offset, slot FROM span WHERE doc_id = ? ORDER BY ann_id",
		l.doc.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var annID, begin, end, slot int
		var layerName string
		if err := rows.Scan(&annID, &layerName, &begin, &end, &slot); err != nil {
			return err
		}
		layer, err := l.layer(layerName)
		if err != nil {
			return err
		}
		sp := l.doc.AddSpan(layer, cas.Range{Begin: begin, End: end}, slot)
		for name, value := range features[annID] {
			sp.SetFeature(name, value)
		}
		l.endpoints[annID] = sp
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, a := range l.attrs {
		a.tok.Lemma = l.span(a.lemma)
		a.tok.POS = l.span(a.pos)
	}
	return nil
}

func (l *loader) relations(ctx context.Context, db *sql.DB) error {
	features, err := l.features(ctx, db)
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT ann_id, layer, begin_offset, end_offset, governor, dependent FROM relation WHERE doc_id = ? ORDER BY ann_id",
		l.doc.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var annID, begin, end int
		var layerName string
		var gov, dep sql.NullInt64
		if err := rows.Scan(&annID, &layerName, &begin, &end, &gov, &dep); err != nil {
			return err
		}
		layer, err := l.layer(layerName)
		if err != nil {
			return err
		}
		rel := l.doc.AddRelation(layer, l.endpoint(gov), l.endpoint(dep), cas.Range{Begin: begin, End: end})
		for name, value := range features[annID] {
			rel.SetFeature(name, value)
		}
	}
	return rows.Err()
}

func (l *loader) features(ctx context.Context, db *sql.DB) (map[int]map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT ann_id, name, value FROM feature WHERE doc_id = ?", l.doc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]map[string]string)
	for rows.Next() {
		var annID int
		var name, value string
		if err := rows.Scan(&annID, &name, &value); err != nil {
			return nil, err
		}
		if out[annID] == nil {
			out[annID] = make(map[string]string)
		}
		out[annID][name] = value
	}
	return out, rows.Err()
}

func (l *loader) layer(name string) (*typesystem.Type, error) {
	t, ok := l.doc.TypeSystem().Lookup(name)
	if !ok {
		return nil, &errors.UnknownLayerError{Layer: name, Reason: "stored layer is not in the type system"}
	}
	return t, nil
}

func (l *loader) endpoint(ref sql.NullInt64) cas.Endpoint {
	if !ref.Valid {
		return nil
	}
	return l.endpoints[int(ref.Int64)]
}

func (l *loader) span(ref sql.NullInt64) *cas.Span {
	sp, _ := l.endpoint(ref).(*cas.Span)
	return sp
}
