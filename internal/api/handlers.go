package api

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jra3/metafs-projector/internal/rules"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	cfgErr := s.cfgErr
	s.cfgMu.RUnlock()

	status := "ok"
	if cfgErr != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Service:   "metafs-projector",
		Timestamp: time.Now().UTC(),
	})
}

type statsResponse struct {
	FileCount         int       `json:"fileCount"`
	DirectoryCount    int       `json:"directoryCount"`
	TotalSize         int64     `json:"totalSize"`
	TotalSizeHuman    string    `json:"totalSizeHuman"`
	LastRefresh       time.Time `json:"lastRefresh"`
	EventsProcessed   int64     `json:"eventsProcessed"`
	PropertiesFetched int64     `json:"propertiesFetched"`
	PropertiesSkipped int64     `json:"propertiesSkipped"`
	FilesCompleted    int64     `json:"filesCompleted"`
	StoreConnected    bool      `json:"storeConnected"`
	Uptime            string    `json:"uptime"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ts := s.tree.GetStats()
	counters := s.builder.Counters()
	writeJSON(w, http.StatusOK, statsResponse{
		FileCount:         ts.FileCount,
		DirectoryCount:    ts.DirectoryCount,
		TotalSize:         ts.TotalSize,
		TotalSizeHuman:    humanize.Bytes(uint64(ts.TotalSize)),
		LastRefresh:       ts.LastRefresh,
		EventsProcessed:   counters.EventsProcessed,
		PropertiesFetched: counters.PropertiesFetched,
		PropertiesSkipped: counters.PropertiesSkipped,
		FilesCompleted:    counters.FilesCompleted,
		StoreConnected:    s.builder.Running(),
		Uptime:            time.Since(s.startedAt).String(),
	})
}

type pathRequest struct {
	Path string `json:"path"`
}

func validatePath(p string) error {
	if p == "" {
		return badRequest("path must not be empty")
	}
	return nil
}

type readdirResponse struct {
	Entries []string `json:"entries"`
}

func (s *Server) handleReaddir(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validatePath(req.Path); err != nil {
		writeError(w, err)
		return
	}
	entries, ok := s.tree.Readdir(req.Path)
	if !ok {
		writeError(w, notFound("not a directory: "+req.Path))
		return
	}
	writeJSON(w, http.StatusOK, readdirResponse{Entries: entries})
}

type getattrResponse struct {
	IsDir bool      `json:"isDir"`
	Size  int64     `json:"size"`
	Mode  uint32    `json:"mode"`
	MTime time.Time `json:"mtime"`
	CTime time.Time `json:"ctime"`
	UID   uint32    `json:"uid"`
	GID   uint32    `json:"gid"`
	NLink uint32    `json:"nlink"`
}

func (s *Server) handleGetattr(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validatePath(req.Path); err != nil {
		writeError(w, err)
		return
	}
	attrs, ok := s.tree.Getattr(req.Path, s.attrs.FileMode, s.attrs.DirMode, s.attrs.UID, s.attrs.GID)
	if !ok {
		writeError(w, notFound("no such path: "+req.Path))
		return
	}
	writeJSON(w, http.StatusOK, getattrResponse{
		IsDir: attrs.IsDir, Size: attrs.Size, Mode: attrs.Mode,
		MTime: attrs.MTime, CTime: attrs.CTime, UID: attrs.UID, GID: attrs.GID, NLink: attrs.NLink,
	})
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validatePath(req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existsResponse{Exists: s.tree.Exists(req.Path)})
}

type readResponse struct {
	SourcePath string `json:"sourcePath"`
	Size       int64  `json:"size"`
	WebDAVURL  string `json:"webdavUrl,omitempty"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validatePath(req.Path); err != nil {
		writeError(w, err)
		return
	}
	res, ok := s.tree.Read(req.Path)
	if !ok {
		writeError(w, notFound("no such file: "+req.Path))
		return
	}
	writeJSON(w, http.StatusOK, readResponse{SourcePath: res.SourcePath, Size: res.Size, WebDAVURL: res.WebDAVURL})
}

type metadataResponse struct {
	FilePath  string            `json:"filePath"`
	FileName  string            `json:"fileName"`
	Extension string            `json:"extension"`
	FileType  string            `json:"fileType"`
	Size      int64             `json:"size"`
	MTime     time.Time         `json:"mtime"`
	CTime     time.Time         `json:"ctime"`
	Extras    rules.PropertyMap `json:"extras,omitempty"`
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validatePath(req.Path); err != nil {
		writeError(w, err)
		return
	}
	md, ok := s.tree.GetMetadata(req.Path)
	if !ok {
		writeError(w, notFound("no such file: "+req.Path))
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		FilePath: md.FilePath, FileName: md.FileName, Extension: md.Extension, FileType: md.FileType,
		Size: md.Size, MTime: md.MTime, CTime: md.CTime, Extras: md.Extras,
	})
}

type filesResponse struct {
	Files []string `json:"files"`
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, filesResponse{Files: s.tree.GetAllFiles()})
}

type directoriesResponse struct {
	Directories []string `json:"directories"`
}

func (s *Server) handleDirectories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, directoriesResponse{Directories: s.tree.GetAllDirectories()})
}

type refreshResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cfg := s.currentConfig()
	if err := s.refreshFrom(r.Context(), cfg); err != nil {
		writeError(w, unavailable(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Status: "ok"})
}

type rulesGetResponse struct {
	Config       rules.Config `json:"config"`
	LastModified time.Time    `json:"lastModified"`
}

func (s *Server) handleRulesGet(w http.ResponseWriter, r *http.Request) {
	cfg := s.currentConfig()
	writeJSON(w, http.StatusOK, rulesGetResponse{Config: cfg, LastModified: cfg.LastModified})
}

type rulesPutRequest struct {
	Config rules.Config `json:"config"`
}

type rulesPutResponse struct {
	Success   bool `json:"success"`
	Refreshed bool `json:"refreshed"`
}

func (s *Server) handleRulesPut(w http.ResponseWriter, r *http.Request) {
	var req rulesPutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	for i := range req.Config.Rules {
		if req.Config.Rules[i].ID == "" {
			req.Config.Rules[i].ID = uuid.NewString()
		}
		if res := rules.ValidateRule(req.Config.Rules[i], nil); !res.Valid {
			writeError(w, badRequest("rule "+req.Config.Rules[i].Name+": "+joinErrors(res.Errors)))
			return
		}
	}

	if err := s.ApplyRuleConfig(r.Context(), req.Config); err != nil {
		writeError(w, unavailable(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rulesPutResponse{Success: true, Refreshed: true})
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}

type rulesVariablesResponse struct {
	Variables []string `json:"variables"`
}

func (s *Server) handleRulesVariables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rulesVariablesResponse{Variables: rules.ListVariables(s.currentConfig())})
}

type rulesValidateRequest struct {
	Rule           rules.Rule        `json:"rule"`
	SampleMetadata rules.PropertyMap `json:"sampleMetadata,omitempty"`
}

type rulesValidateResponse struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	SampleOutput string   `json:"sampleOutput,omitempty"`
}

func (s *Server) handleRulesValidate(w http.ResponseWriter, r *http.Request) {
	var req rulesValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res := rules.ValidateRule(req.Rule, req.SampleMetadata)
	writeJSON(w, http.StatusOK, rulesValidateResponse{
		Valid: res.Valid, Errors: res.Errors, Warnings: res.Warnings, SampleOutput: res.SampleOutput,
	})
}
