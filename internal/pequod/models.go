// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package pequod

import (
	"database/sql"
	"regexp"
	"time"

	"github.com/opencontainers/go-digest"
	gorp "gopkg.in/gorp.v2"
)

// RepoNameRx is the format of repository names. Repository names may contain
// slashes ("library/nginx"); the name rewriting middleware makes sure that
// such names arrive here in one piece.
var RepoNameRx = regexp.MustCompile(`^[\w/]+$`)

// DigestReferenceRx matches manifest references that are digests rather than
// tag names. This is deliberately laxer than digest.Parse() because stored
// manifests may carry digests for algorithms that we do not compute ourselves.
var DigestReferenceRx = regexp.MustCompile(`^[A-Za-z0-9_+.-]+:[A-Fa-f0-9]+$`)

// Repository contains a record from the `repositories` table.
type Repository struct {
	Name string `db:"name"`
}

// InsertIfMissing is equivalent to `e.Insert(&r)`, but does not fail if the
// repository exists in the database already.
func (r Repository) InsertIfMissing(e gorp.SqlExecutor) error {
	_, err := e.Exec(`
		INSERT INTO repositories (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`, r.Name)
	return err
}

// FindRepository is a convenience wrapper around db.SelectOne(). If the
// repository in question does not exist, sql.ErrNoRows is returned.
func (db *DB) FindRepository(name string) (*Repository, error) {
	var repo Repository
	err := db.SelectOne(&repo,
		"SELECT * FROM repositories WHERE name = $1", name)
	return &repo, err
}

////////////////////////////////////////////////////////////////////////////////

// Blob contains a record from the `blobs` table.
//
// The `digest` column does double duty: finished blobs are keyed by their
// content digest ("sha256:..."), and upload sessions in progress are keyed by
// their session UUID. Finalizing an upload rekeys the row from the UUID to
// the verified digest (see RekeyBlob), so a session row *is* the partial
// blob. Abandoned sessions are recognizable by their non-digest key and get
// reclaimed by the cleanup task.
type Blob struct {
	Digest string `db:"digest"`
	Value  []byte `db:"value"`
}

// FindBlob is a convenience wrapper around db.SelectOne(). If the blob in
// question does not exist, sql.ErrNoRows is returned.
func (db *DB) FindBlob(key string) (*Blob, error) {
	var blob Blob
	err := db.SelectOne(&blob,
		"SELECT * FROM blobs WHERE digest = $1", key)
	return &blob, err
}

// BlobSizeBytes reports the current size of a blob (or upload session)
// without loading its contents. If no such row exists, sql.ErrNoRows is
// returned. (db.SelectInt would report a missing row as size 0.)
func (db *DB) BlobSizeBytes(key string) (sizeBytes int64, err error) {
	err = db.SelectOne(&sizeBytes, "SELECT length(value) FROM blobs WHERE digest = $1", key)
	return
}

// AppendBlobChunk appends a chunk of bytes to the blob row with the given
// key, creating the row if it does not exist yet. The resulting total size of
// the row's contents is returned. This is the backing implementation for the
// PATCH endpoint of the upload state machine; doing the append in a single
// statement keeps sequential chunks of one session from clobbering each other.
func AppendBlobChunk(e gorp.SqlExecutor, key string, chunk []byte) (sizeBytes int64, err error) {
	err = e.SelectOne(&sizeBytes, `
		INSERT INTO blobs (digest, value) VALUES ($1, $2)
		ON CONFLICT (digest) DO UPDATE SET value = blobs.value || EXCLUDED.value
		RETURNING length(value)
	`, key, chunk)
	return
}

// RekeyBlob renames the blob row with the given key to the given content
// digest. This finalizes an upload session. If a blob with that digest exists
// already, the existing row wins (its contents are byte-identical since they
// hash to the same digest) and the session row is dropped. If there is no row
// under the session key, sql.ErrNoRows is returned.
func RekeyBlob(e gorp.SqlExecutor, key string, blobDigest digest.Digest) error {
	exists, err := e.SelectInt(
		"SELECT COUNT(*) FROM blobs WHERE digest = $1", blobDigest.String())
	if err != nil {
		return err
	}

	var result sql.Result
	if exists > 0 {
		result, err = e.Exec("DELETE FROM blobs WHERE digest = $1", key)
	} else {
		result, err = e.Exec("UPDATE blobs SET digest = $1 WHERE digest = $2", blobDigest.String(), key)
	}
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteBlob removes the blob row with the given key. If no such row exists,
// sql.ErrNoRows is returned.
func DeleteBlob(e gorp.SqlExecutor, key string) error {
	result, err := e.Exec("DELETE FROM blobs WHERE digest = $1", key)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// Manifest contains a record from the `manifests` table.
//
// The digest is always computed by the server over the raw bytes in `value`;
// client-supplied digests are never used for storage keying.
type Manifest struct {
	RepositoryName string `db:"repository"`
	Digest         string `db:"digest"`
	Value          []byte `db:"value"`
}

// InsertIfMissing is equivalent to `e.Insert(&m)`, but does not fail if the
// manifest exists in the database already.
func (m Manifest) InsertIfMissing(e gorp.SqlExecutor) error {
	_, err := e.Exec(`
		INSERT INTO manifests (repository, digest, value) VALUES ($1, $2, $3)
		ON CONFLICT (repository, digest) DO NOTHING
	`, m.RepositoryName, m.Digest, m.Value)
	return err
}

// FindManifest is a convenience wrapper around db.SelectOne(). If the
// manifest in question does not exist, sql.ErrNoRows is returned.
func (db *DB) FindManifest(repoName, manifestDigest string) (*Manifest, error) {
	var manifest Manifest
	err := db.SelectOne(&manifest,
		"SELECT * FROM manifests WHERE repository = $1 AND digest = $2",
		repoName, manifestDigest)
	return &manifest, err
}

// SizeOfManifest computes the size of an image in bytes: the sum over all
// blobs that the manifest references. The manifest row itself does not count
// towards the size. If the manifest does not exist, sql.ErrNoRows is returned.
func (db *DB) SizeOfManifest(repoName, manifestDigest string) (sizeBytes int64, err error) {
	err = db.SelectOne(&sizeBytes, `
		SELECT COALESCE(SUM(length(b.value)), 0)
		  FROM manifests m
		  LEFT OUTER JOIN manifest_blobs mb ON mb.manifest = m.digest
		  LEFT OUTER JOIN blobs b ON b.digest = mb.blob
		 WHERE m.repository = $1 AND m.digest = $2
		 GROUP BY m.repository, m.digest
	`, repoName, manifestDigest)
	return
}

////////////////////////////////////////////////////////////////////////////////

// Tag contains a record from the `tags` table.
type Tag struct {
	RepositoryName string    `db:"repository"`
	Name           string    `db:"name"`
	Updated        time.Time `db:"updated"`
	ManifestDigest string    `db:"manifest"`
}

// InsertIfMissing is equivalent to `e.Insert(&t)`, but moves the tag to the
// new manifest if it exists in the database already.
func (t Tag) InsertIfMissing(e gorp.SqlExecutor) error {
	_, err := e.Exec(`
		INSERT INTO tags (repository, name, updated, manifest) VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository, name) DO UPDATE
			SET updated = EXCLUDED.updated, manifest = EXCLUDED.manifest
	`, t.RepositoryName, t.Name, t.Updated, t.ManifestDigest)
	return err
}

// FindTag is a convenience wrapper around db.SelectOne(). If the tag in
// question does not exist, sql.ErrNoRows is returned.
func (db *DB) FindTag(repoName, tagName string) (*Tag, error) {
	var tag Tag
	err := db.SelectOne(&tag,
		"SELECT * FROM tags WHERE repository = $1 AND name = $2",
		repoName, tagName)
	return &tag, err
}

////////////////////////////////////////////////////////////////////////////////

// ManifestBlob contains a record from the `manifest_blobs` table. Each record
// asserts that the blob is reachable from the manifest, which keeps the blob
// alive across cleanup runs.
type ManifestBlob struct {
	ManifestDigest string `db:"manifest"`
	BlobDigest     string `db:"blob"`
}

// InsertIfMissing is equivalent to `e.Insert(&mb)`, but does not fail if the
// edge exists in the database already.
func (mb ManifestBlob) InsertIfMissing(e gorp.SqlExecutor) error {
	_, err := e.Exec(`
		INSERT INTO manifest_blobs (manifest, blob) VALUES ($1, $2)
		ON CONFLICT (manifest, blob) DO NOTHING
	`, mb.ManifestDigest, mb.BlobDigest)
	return err
}

// DisassociateBlob removes all edges between the given blob and manifests of
// the given repository. The blob row itself stays in place; if nothing
// references it anymore, the next cleanup run reclaims it. Returns the number
// of edges removed.
func DisassociateBlob(e gorp.SqlExecutor, repoName, blobDigest string) (int64, error) {
	result, err := e.Exec(`
		DELETE FROM manifest_blobs
		 WHERE blob = $1 AND manifest IN (SELECT digest FROM manifests WHERE repository = $2)
	`, blobDigest, repoName)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

////////////////////////////////////////////////////////////////////////////////

func initModels(db *gorp.DbMap) {
	db.AddTableWithName(Repository{}, "repositories").SetKeys(false, "name")
	db.AddTableWithName(Blob{}, "blobs").SetKeys(false, "digest")
	db.AddTableWithName(Manifest{}, "manifests").SetKeys(false, "repository", "digest")
	db.AddTableWithName(Tag{}, "tags").SetKeys(false, "repository", "name")
	db.AddTableWithName(ManifestBlob{}, "manifest_blobs").SetKeys(false, "manifest", "blob")
}
