package compact

import (
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/starford/ansuz/internal/logfmt"
)

// BuildPackFile rewrites one writer's longest contiguous run of raw update
// files in dir into a single pack record. It returns the pack filename and
// the update files the pack subsumes, or ("", nil, nil) when fewer than
// two contiguous updates exist. A corrupt update ends the run early rather
// than poisoning the pack.
func (c *Compactor) BuildPackFile(dir, writer string) (string, []string, error) {
	metas, err := c.store.List(dir, "*"+logfmt.ExtUpdate)
	if err != nil {
		return "", nil, fmt.Errorf("compact: scan %s: %w", dir, err)
	}

	type candidate struct {
		path string
		info *logfmt.FileInfo
	}
	var cands []candidate
	for _, m := range metas {
		info := logfmt.ParseFilename(path.Base(m.Path))
		if info == nil || info.Kind != logfmt.KindUpdate || info.Writer != writer {
			continue
		}
		cands = append(cands, candidate{path: m.Path, info: info})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].info.Seq < cands[j].info.Seq })

	var updates []*logfmt.Update
	var sources []string
	for _, cand := range cands {
		if len(updates) > 0 && cand.info.Seq != updates[len(updates)-1].Seq+1 {
			break // sequence gap; a pack must be contiguous
		}
		data, err := c.store.Read(cand.path)
		if err != nil {
			break
		}
		u, err := logfmt.DecodeUpdate(cand.path, data)
		if err != nil {
			c.logger.Warn("pack: skipping corrupt update",
				slog.String("path", cand.path), slog.String("error", err.Error()))
			break
		}
		updates = append(updates, u)
		sources = append(sources, cand.path)
	}
	if len(updates) < 2 {
		return "", nil, nil
	}

	p, err := logfmt.BuildPack(updates)
	if err != nil {
		return "", nil, err
	}
	data, err := logfmt.EncodePack(p)
	if err != nil {
		return "", nil, err
	}
	name := logfmt.PackFilename(writer, p.StartSeq, p.EndSeq)
	if err := c.store.AtomicWrite(path.Join(dir, name), data); err != nil {
		return "", nil, fmt.Errorf("compact: write pack: %w", err)
	}
	c.logger.Info("pack written", slog.String("dir", dir), slog.String("file", name))
	return name, sources, nil
}
