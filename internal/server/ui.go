package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/vcachehq/server/internal/abimatch"
	"github.com/vcachehq/server/internal/archive"
	"github.com/vcachehq/server/internal/fuzzy"
	"github.com/vcachehq/server/internal/metadb"
	"github.com/vcachehq/server/internal/telemetry"
	"github.com/vcachehq/server/internal/ui"
)

func renderMode(r *http.Request) ui.Mode {
	switch r.URL.Query().Get("mode") {
	case "plain":
		return ui.ModePlain
	case "append":
		return ui.ModeAppend
	default:
		return ui.ModeFull
	}
}

// packageSummary is one row of the index page: Count/TotalSize come from
// every Valid blob store entry so the index reflects what is actually
// servable right now, while LastUsed/Downloads are joined in from the
// metadata DB since the blob store doesn't track access history.
type packageSummary struct {
	Name      string
	Count     int
	TotalSize int64
	LastUsed  *time.Time
	Downloads int64
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.index")

	infos := s.blobs.AllInfos()
	byPackage := map[string]*packageSummary{}
	for _, info := range infos {
		ps, ok := byPackage[info.Package]
		if !ok {
			ps = &packageSummary{Name: info.Package}
			byPackage[info.Package] = ps
		}
		ps.Count++
		ps.TotalSize += info.Size
	}

	if dbRows, err := s.db.ListPackages(); err != nil {
		s.log.Warn("server: listing package metadata failed", "error", err)
	} else {
		for _, dr := range dbRows {
			if ps, ok := byPackage[dr.Name]; ok {
				ps.LastUsed = dr.LastUsed
				ps.Downloads = dr.Downloads
			}
		}
	}

	rows := make([]packageSummary, 0, len(byPackage))
	for _, ps := range byPackage {
		rows = append(rows, *ps)
	}

	search := r.URL.Query().Get("search")
	scored := fuzzy.FilterAndSort(rows, search, func(p packageSummary) string { return p.Name })

	if r.URL.Query().Get("order") == "ascending" {
		sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score < scored[j].Score })
	}

	packages := make([]packageSummary, 0, len(scored))
	for _, sc := range scored {
		packages = append(packages, sc.Row)
	}
	if search == "" {
		sort.Slice(packages, func(i, j int) bool { return packages[i].Name < packages[j].Name })
	}

	_ = ui.Render(w, renderMode(r), "index.html", struct {
		Packages []packageSummary
		Search   string
	}{packages, search})
}

// findRow pairs a blob store entry with the download count recorded for
// it in the metadata DB, since the blob store itself doesn't track access
// history.
type findRow struct {
	archive.Info
	Downloads int64
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.find")
	pkg := r.PathValue("package")

	downloadsBySHA := map[string]int64{}
	if dbCaches, err := s.db.ListCachesForPackage(pkg); err != nil {
		s.log.Warn("server: listing package caches failed", "package", pkg, "error", err)
	} else {
		for _, c := range dbCaches {
			downloadsBySHA[c.SHA] = c.Downloads
		}
	}

	var matches []findRow
	for _, info := range s.blobs.AllInfos() {
		if info.Package == pkg {
			matches = append(matches, findRow{Info: info, Downloads: downloadsBySHA[info.SHA]})
		}
	}

	_ = ui.Render(w, renderMode(r), "find.html", struct {
		Package string
		Caches  []findRow
	}{pkg, matches})
}

func (s *Server) handlePackageDetail(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.package")
	sha := r.PathValue("sha")

	info, ok := s.blobs.Info(sha)
	if !ok {
		_ = ui.Render(w, renderMode(r), "package.html", struct {
			SHA   string
			Found bool
			Info  archive.Info
		}{sha, false, archive.Info{}})
		return
	}

	_ = ui.Render(w, renderMode(r), "package.html", struct {
		SHA   string
		Found bool
		Info  archive.Info
	}{sha, true, info})
}

func (s *Server) handleMatchForm(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.match.form")
	_ = ui.Render(w, renderMode(r), "match.html", struct {
		Candidates []abimatch.Candidate
		Submitted  bool
	}{nil, false})
}

func (s *Server) handleMatchSubmit(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.match.submit")

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "bad multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	pkg := r.FormValue("package")

	abiText, err := readMultipartFile(r.MultipartForm, "abi_file")
	if err != nil {
		http.Error(w, "abi_file required: "+err.Error(), http.StatusBadRequest)
		return
	}

	target := archive.ParseAbiRecords(abiText)
	candidates := abimatch.Match(s.blobs.AllInfos(), pkg, target, 3)

	_ = ui.Render(w, renderMode(r), "match.html", struct {
		Candidates []abimatch.Candidate
		Submitted  bool
	}{candidates, true})
}

func readMultipartFile(form *multipart.Form, field string) (string, error) {
	files := form.File[field]
	if len(files) == 0 {
		return "", http.ErrMissingFile
	}
	f, err := files[0].Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// compareDiff is one sibling's ABI diff against the target of a compare
// page.
type compareDiff struct {
	SHA  string
	Diff []abimatch.DiffRow
}

// compareData is the render data for compare.html. When Found is false
// (no cache with this sha), the page renders a not-found body at 200,
// matching handlePackageDetail's shape for the same condition rather than
// returning an error status.
type compareData struct {
	SHA      string
	Found    bool
	Target   archive.Info
	Siblings []abimatch.Candidate
	Diffs    []compareDiff
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.compare")
	sha := r.PathValue("sha")

	target, ok := s.blobs.Info(sha)
	if !ok {
		_ = ui.Render(w, renderMode(r), "compare.html", compareData{SHA: sha, Found: false})
		return
	}

	var siblings []abimatch.Candidate
	for _, cand := range abimatch.Match(s.blobs.AllInfos(), target.Package, target.Abi, 6) {
		if cand.Info.SHA == sha {
			continue
		}
		siblings = append(siblings, cand)
		if len(siblings) == 5 {
			break
		}
	}

	diffs := make([]compareDiff, 0, len(siblings))
	for _, sib := range siblings {
		diffs = append(diffs, compareDiff{SHA: sib.Info.SHA, Diff: abimatch.Diff(target.Abi, sib.Info.Abi)})
	}

	_ = ui.Render(w, renderMode(r), "compare.html", compareData{
		SHA:      sha,
		Found:    true,
		Target:   target,
		Siblings: siblings,
		Diffs:    diffs,
	})
}

// handleDownloads renders a page of the download ledger. The sort key is
// passed straight through to metadb.ListDownloads, which whitelists it
// against a column map before it ever reaches SQL.
func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.downloads")
	q := r.URL.Query()

	sortCol := q.Get("sort")
	order := "desc"
	if q.Get("order") == "ascending" {
		order = "asc"
	}
	selcol := q.Get("selcol")
	selval := q.Get("selval")
	offset := parseIntDefault(q.Get("offset"), 0)
	limit := parseIntDefault(q.Get("limit"), 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.ListDownloads(sortCol, order, selcol, selval, offset, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_ = ui.Render(w, renderMode(r), "downloads.html", struct {
		Rows   []metadb.DownloadRow
		Offset int
		Limit  int
		SelCol string
		SelVal string
	}{rows, offset, limit, selcol, selval})
}
