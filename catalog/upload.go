package catalog

import (
	"context"
	"io"
	"sort"

	"github.com/jackc/pgx/v4"
	"github.com/teris-io/shortid"

	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

var uploadSelectSQL = `SELECT u.id, u.nameid, u.job, u.backend_token, u.nbytes, u.chunksize, u.metadata, u.owner,
	` + ancestorACLColumnFor("obj.ancestors", "owner") + `
	FROM hatrac.upload u JOIN hatrac.name obj ON obj.id = u.nameid
	WHERE `

func scanUpload(row pgx.Row) (*Upload, error) {
	var (
		u             Upload
		rawMeta       []byte
		owner         []string
		ancestorOwner []string
	)
	if err := row.Scan(&u.ID, &u.NameID, &u.JobToken, &u.BackendToken, &u.NBytes, &u.ChunkSize, &rawMeta, &owner, &ancestorOwner); err != nil {
		if err == pgx.ErrNoRows {
			return nil, herr.NotFoundf("no such upload job")
		}
		return nil, herr.Wrap(herr.Internal, err, "scanning upload row")
	}
	meta, err := MetadataFromSQL(rawMeta)
	if err != nil {
		return nil, err
	}
	u.Metadata = meta
	u.ACLs = NewACLSet()
	for r := range rolesToSet(owner) {
		u.ACLs.Add("owner", r)
	}
	for r := range rolesToSet(ancestorOwner) {
		u.ACLs.Add("ancestor_owner", r)
	}
	return &u, nil
}

func (d *Directory) lookupUploadTx(ctx context.Context, tx pgx.Tx, nameID int64, job string) (*Upload, error) {
	row := tx.QueryRow(ctx, uploadSelectSQL+`u.nameid = $1 AND u.job = $2`, nameID, job)
	return scanUpload(row)
}

// newJobToken mints the opaque, URL-facing upload job token stored in
// Upload.JobToken, a short URL-safe id from github.com/teris-io/shortid.
// The bulk backend's own token for the job (e.g. an S3 multipart UploadId)
// is stored separately in Upload.BackendToken.
func newJobToken() (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", herr.Wrap(herr.Internal, err, "generating upload job token")
	}
	return id, nil
}

// CreateUpload begins a resumable multipart upload against the object at
// path, creating the object first if it does not yet exist.
func (d *Directory) CreateUpload(ctx context.Context, path string, makeParents bool, nbytes, chunkSize int64, metadata Metadata, caller ClientContext) (*Name, *Upload, error) {
	if chunkSize <= 0 {
		return nil, nil, herr.BadRequestf("chunk-length must be > 0")
	}
	var obj *Name
	var pendingNameID int64
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			if !herr.Is(err, herr.NotFound) {
				return err
			}
			n, err = d.createNameTx(ctx, tx, path, SubtypeObject, makeParents, caller)
			if err != nil {
				return err
			}
		} else {
			if n.Subtype != SubtypeObject {
				return herr.Conflictf("%s exists and is not an object", path)
			}
			if err := n.ACLs.EnforceAny(ObjectUpdateAccessNames(), caller); err != nil {
				return err
			}
		}
		obj, pendingNameID = n, n.ID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	rawMeta := map[string][]byte(metadata)
	backendToken, err := d.backend.CreateUpload(ctx, obj.Path, nbytes, rawMeta)
	if err != nil {
		return nil, nil, err
	}

	// The public, URL-facing job id is generated independently of whatever
	// token the backend returned (e.g. an S3 multipart UploadId is long and
	// not guaranteed URL-safe); the backend token is retained separately for
	// backend calls.
	job, err := newJobToken()
	if err != nil {
		return nil, nil, err
	}

	var up *Upload
	err = d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rawMeta, err := metadata.ToSQL()
		if err != nil {
			return err
		}
		owner := []string{}
		if caller.ClientID != "" {
			owner = []string{caller.ClientID}
		}
		var id int64
		err = tx.QueryRow(ctx,
			`INSERT INTO hatrac.upload (nameid, job, backend_token, nbytes, chunksize, metadata, owner) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			pendingNameID, job, backendToken, nbytes, chunkSize, rawMeta, owner).Scan(&id)
		if err != nil {
			return herr.Wrap(herr.Internal, err, "creating upload row")
		}
		u, err := d.lookupUploadTx(ctx, tx, pendingNameID, job)
		if err != nil {
			return err
		}
		up = u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return obj, up, nil
}

// classifyPosition validates a chunk position against the declared upload
// shape, the boundary rules from §4.5.
func classifyPosition(u *Upload, position, nbytes int64) error {
	nchunks := u.NChunks()
	remainder := u.Remainder()
	if position < 0 {
		return herr.Conflictf("chunk position must be >= 0")
	}
	if remainder == 0 {
		if position >= nchunks {
			return herr.Conflictf("chunk position %d out of range for %d total chunks", position, nchunks)
		}
		if nbytes != u.ChunkSize {
			return herr.Conflictf("chunk %d must be exactly %d bytes, got %d", position, u.ChunkSize, nbytes)
		}
		return nil
	}
	// remainder > 0: valid positions are 0..nchunks inclusive, with nchunks
	// being the final partial chunk.
	if position > nchunks {
		return herr.Conflictf("chunk position %d out of range for %d total chunks plus remainder", position, nchunks)
	}
	if position < nchunks {
		if nbytes != u.ChunkSize {
			return herr.Conflictf("chunk %d must be exactly %d bytes, got %d", position, u.ChunkSize, nbytes)
		}
		return nil
	}
	// position == nchunks: the final partial chunk.
	if nbytes != remainder {
		return herr.Conflictf("final chunk %d must be exactly %d bytes, got %d", position, remainder, nbytes)
	}
	return nil
}

// UploadChunk validates and forwards one chunk to the backend, upserting a
// chunk-tracking row when the backend declares TracksChunks.
func (d *Directory) UploadChunk(ctx context.Context, objPath, job string, position int64, r io.Reader, nbytes int64, caller ClientContext) error {
	var obj *Name
	var up *Upload
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, objPath)
		if err != nil {
			return err
		}
		u, err := d.lookupUploadTx(ctx, tx, n.ID, job)
		if err != nil {
			return err
		}
		if err := u.ACLs.EnforceAny([]string{"owner"}, caller); err != nil {
			return err
		}
		if err := classifyPosition(u, position, nbytes); err != nil {
			return err
		}
		obj, up = n, u
		return nil
	})
	if err != nil {
		return err
	}

	aux, err := d.backend.UploadChunkFromFile(ctx, obj.Path, up.BackendToken, position, up.ChunkSize, r, nbytes)
	if err != nil {
		return err
	}
	if !d.backend.TracksChunks() {
		return nil
	}
	return d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO hatrac.chunk (uploadid, position, aux) VALUES ($1,$2,$3)
			ON CONFLICT (uploadid, position) DO UPDATE SET aux = EXCLUDED.aux`, up.ID, position, aux)
		if err != nil {
			return herr.Wrap(herr.Internal, err, "recording chunk %d of upload %s", position, job)
		}
		return nil
	})
}

// FinalizeUpload completes a multipart upload: chunk rows (if tracked) are
// loaded in position order and passed to the backend, which returns a
// version tag; the directory then performs create_version + complete_version
// + delete_upload in one transaction, per §4.5.
func (d *Directory) FinalizeUpload(ctx context.Context, objPath, job string, caller ClientContext) (*Name, *Version, error) {
	var obj *Name
	var up *Upload
	var chunks []storage.ChunkData
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, objPath)
		if err != nil {
			return err
		}
		u, err := d.lookupUploadTx(ctx, tx, n.ID, job)
		if err != nil {
			return err
		}
		if err := u.ACLs.EnforceAny([]string{"owner"}, caller); err != nil {
			return err
		}
		if d.backend.TracksChunks() {
			rows, err := tx.Query(ctx, `SELECT position, aux FROM hatrac.chunk WHERE uploadid = $1 ORDER BY position ASC`, u.ID)
			if err != nil {
				return herr.Wrap(herr.Internal, err, "listing chunks of upload %s", job)
			}
			defer rows.Close()
			for rows.Next() {
				var c storage.ChunkData
				if err := rows.Scan(&c.Position, &c.Aux); err != nil {
					return herr.Wrap(herr.Internal, err, "scanning chunk row")
				}
				chunks = append(chunks, c)
			}
		}
		obj, up = n, u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Position < chunks[j].Position })

	rawMeta := map[string][]byte(up.Metadata)
	tag, err := d.backend.FinalizeUpload(ctx, obj.Path, up.BackendToken, chunks, rawMeta)
	if err != nil {
		return nil, nil, err
	}

	var ver *Version
	err = d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		id, err := d.createVersionTx(ctx, tx, obj.ID, up.NBytes, up.Metadata)
		if err != nil {
			return err
		}
		if err := d.completeVersionTx(ctx, tx, id, tag, caller.ClientID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hatrac.chunk WHERE uploadid = $1`, up.ID); err != nil {
			return herr.Wrap(herr.Internal, err, "cleaning up chunk rows")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hatrac.upload WHERE id = $1`, up.ID); err != nil {
			return herr.Wrap(herr.Internal, err, "deleting upload row")
		}
		v, err := d.lookupVersionTx(ctx, tx, obj.ID, tag)
		if err != nil {
			return err
		}
		ver = v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return obj, ver, nil
}

// EnumerateUploads lists in-progress upload jobs under a namespace: direct
// children's uploads only, or every descendant's if recursive. This is
// admin/diagnostic surface (finding stuck or abandoned multipart uploads),
// not part of the object HTTP contract.
func (d *Directory) EnumerateUploads(ctx context.Context, path string, recursive bool, caller ClientContext) ([]*Upload, error) {
	var out []*Upload
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if n.Subtype != SubtypeNamespace {
			return herr.BadRequestf("%s is not a namespace", path)
		}
		if err := n.ACLs.EnforceAny(ReadAccessNames(KindNamespace), caller); err != nil {
			return err
		}
		var query string
		if recursive {
			query = uploadSelectSQL + `$1 = ANY(obj.ancestors)`
		} else {
			query = uploadSelectSQL + `obj.pid = $1`
		}
		rows, err := tx.Query(ctx, query, n.ID)
		if err != nil {
			return herr.Wrap(herr.Internal, err, "enumerating uploads under %s", path)
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUpload(rows)
			if err != nil {
				return err
			}
			if err := u.ACLs.EnforceAny([]string{"owner"}, caller); err == nil {
				out = append(out, u)
			}
		}
		return nil
	})
	return out, err
}

// CancelUpload deletes the upload's rows, then asks the backend to abort it.
func (d *Directory) CancelUpload(ctx context.Context, objPath, job string, caller ClientContext) error {
	var obj *Name
	var up *Upload
	err := d.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := d.lookupNameTx(ctx, tx, objPath)
		if err != nil {
			return err
		}
		u, err := d.lookupUploadTx(ctx, tx, n.ID, job)
		if err != nil {
			return err
		}
		if err := u.ACLs.EnforceAny(OwnerAccessNames(KindUpload), caller); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hatrac.chunk WHERE uploadid = $1`, u.ID); err != nil {
			return herr.Wrap(herr.Internal, err, "deleting chunk rows")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hatrac.upload WHERE id = $1`, u.ID); err != nil {
			return herr.Wrap(herr.Internal, err, "deleting upload row")
		}
		obj, up = n, u
		return nil
	})
	if err != nil {
		return err
	}
	return d.backend.CancelUpload(ctx, obj.Path, up.BackendToken)
}
