// Package orthanctest provides an in-memory Orthanc server for tests.
//
// Instances are posted as small text payloads (see EncodeInstance) rather
// than real DICOM, and the server derives ids from their UIDs exactly like
// a real archive does.
package orthanctest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
)

const magic = "DICM-TEST"

// EncodeInstance renders tags as a test payload.
func EncodeInstance(tags map[string]string) []byte {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(magic + "\n")
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, tags[k])
	}
	return buf.Bytes()
}

// DecodeInstance parses a payload written by EncodeInstance.
func DecodeInstance(data []byte) (map[string]string, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() || sc.Text() != magic {
		return nil, fmt.Errorf("%w: not a test instance", domain.ErrInvalidInput)
	}
	tags := make(map[string]string)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		tags[k] = v
	}
	return tags, sc.Err()
}

// InstanceTags builds the four identifying UIDs for instance n of a series.
func InstanceTags(patient, study, series string, n int) map[string]string {
	return map[string]string{
		domain.TagPatientID:         patient,
		domain.TagStudyInstanceUID:  study,
		domain.TagSeriesInstanceUID: series,
		domain.TagSOPInstanceUID:    series + "." + strconv.Itoa(n),
		domain.TagAccessionNumber:   "AN-" + study,
	}
}

type instance struct {
	tags map[string]string
	data []byte
}

// Server is a fake Orthanc.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	remoteAET     string
	retrieveFails bool
	instances     map[string]instance
	answers       [][]map[string]string
	remote        []map[string]string
	peers         map[string]*Server
	pushed        map[string][]string
	queries       []map[string]string
	retrieves     int
	deletes       int
}

// NewServer starts a fake Orthanc that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		instances: make(map[string]instance),
		peers:     make(map[string]*Server),
		pushed:    make(map[string][]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /statistics", s.handleStatistics)
	mux.HandleFunc("GET /instances", s.handleListInstances)
	mux.HandleFunc("POST /instances/", s.handlePostInstance)
	mux.HandleFunc("GET /{level}/{id}", s.handleExists)
	mux.HandleFunc("DELETE /{level}/{id}", s.handleDelete)
	mux.HandleFunc("GET /{level}/{id}/tags", s.handleTags)
	mux.HandleFunc("GET /{level}/{id}/shared-tags", s.handleTags)
	mux.HandleFunc("GET /{level}/{id}/file", s.handleFile)
	mux.HandleFunc("GET /{level}/{id}/metadata/{name}", s.handleMetadata)
	mux.HandleFunc("POST /peers/{peer}/store", s.handlePush)
	mux.HandleFunc("POST /modalities/{aet}/query", s.handleQuery)
	mux.HandleFunc("GET /queries/{qid}/answers", s.handleAnswers)
	mux.HandleFunc("GET /queries/{qid}/answers/{aid}/content", s.handleContent)
	mux.HandleFunc("POST /queries/{qid}/answers/{aid}/retrieve", s.handleRetrieve)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddInstance stores an instance directly and returns its id.
func (s *Server) AddInstance(tags map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(tags, EncodeInstance(tags))
}

// AddPeer makes POST /peers/{name}/store copy instances into peer.
func (s *Server) AddPeer(name string, peer *Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[name] = peer
}

// SetRemote sets the series the remote modality answers with.
func (s *Server) SetRemote(aet string, answers ...map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteAET = aet
	s.remote = answers
}

// SetRetrieveFails makes retrieve requests succeed without adding the series.
func (s *Server) SetRetrieveFails(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrieveFails = fail
}

// InstanceIDs returns the stored instance ids, sorted.
func (s *Server) InstanceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasSeries reports whether a series is present locally.
func (s *Server) HasSeries(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seriesTagsLocked(id)
	return ok
}

// Queries returns the bodies of remote queries received so far.
func (s *Server) Queries() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.queries...)
}

// Retrieves returns the number of retrieve requests received.
func (s *Server) Retrieves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrieves
}

// Deletes returns the number of successful deletes.
func (s *Server) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

// Pushed returns the ids pushed to a peer.
func (s *Server) Pushed(peer string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pushed[peer]...)
}

func (s *Server) addLocked(tags map[string]string, data []byte) string {
	id := domain.IDFromTags(tags, domain.LevelInstance)
	s.instances[id] = instance{tags: tags, data: data}
	return id
}

// seriesTagsLocked finds any instance of a series.
func (s *Server) seriesTagsLocked(id string) (map[string]string, bool) {
	for _, inst := range s.instances {
		if domain.IDFromTags(inst.tags, domain.LevelSeries) == id {
			return inst.tags, true
		}
	}
	return nil, false
}

func (s *Server) lookupLocked(level, id string) (map[string]string, bool) {
	switch level {
	case "instances":
		inst, ok := s.instances[id]
		return inst.tags, ok
	case "series":
		return s.seriesTagsLocked(id)
	case "studies":
		for _, inst := range s.instances {
			if domain.IDFromTags(inst.tags, domain.LevelStudy) == id {
				return inst.tags, true
			}
		}
	case "patients":
		for _, inst := range s.instances {
			if domain.IDFromTags(inst.tags, domain.LevelPatient) == id {
				return inst.tags, true
			}
		}
	}
	return nil, false
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := make(map[string]bool)
	for _, inst := range s.instances {
		series[domain.IDFromTags(inst.tags, domain.LevelSeries)] = true
	}
	writeJSON(w, map[string]any{
		"CountInstances": len(s.instances),
		"CountSeries":    len(series),
	})
}

func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.InstanceIDs())
}

func (s *Server) handlePostInstance(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tags, err := DecodeInstance(data)
	if err != nil || tags[domain.TagSOPInstanceUID] == "" {
		http.Error(w, "not a DICOM instance", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	id := s.addLocked(tags, data)
	s.mu.Unlock()
	writeJSON(w, map[string]string{"ID": id, "Status": "Success"})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tags, ok := s.lookupLocked(r.PathValue("level"), r.PathValue("id"))
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{"ID": r.PathValue("id"), "MainDicomTags": tags})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	level, id := r.PathValue("level"), r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	switch level {
	case "instances":
		if _, ok := s.instances[id]; ok {
			delete(s.instances, id)
			found = true
		}
	case "series":
		for iid, inst := range s.instances {
			if domain.IDFromTags(inst.tags, domain.LevelSeries) == id {
				delete(s.instances, iid)
				found = true
			}
		}
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	s.deletes++
	writeJSON(w, map[string]any{})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tags, ok := s.lookupLocked(r.PathValue("level"), r.PathValue("id"))
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, tags)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	inst, ok := s.instances[r.PathValue("id")]
	s.mu.Unlock()
	if !ok || r.PathValue("level") != "instances" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/dicom")
	w.Write(inst.data)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, ok := s.instances[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch r.PathValue("name") {
	case "TransferSyntaxUID":
		io.WriteString(w, "1.2.840.10008.1.2.1")
	case "SopClassUid":
		io.WriteString(w, "1.2.840.10008.5.1.4.1.1.2")
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	id := strings.TrimSpace(string(body))
	name := r.PathValue("peer")

	s.mu.Lock()
	peer, ok := s.peers[name]
	var moved []instance
	for iid, inst := range s.instances {
		if iid == id || domain.IDFromTags(inst.tags, domain.LevelSeries) == id {
			moved = append(moved, inst)
		}
	}
	if ok {
		s.pushed[name] = append(s.pushed[name], id)
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown peer", http.StatusNotFound)
		return
	}
	if len(moved) == 0 {
		http.Error(w, "unknown resource", http.StatusNotFound)
		return
	}
	for _, inst := range moved {
		peer.AddInstance(inst.tags)
	}
	writeJSON(w, map[string]any{})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level string
		Query map[string]string
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.PathValue("aet") != s.remoteAET {
		http.Error(w, "unknown modality", http.StatusNotFound)
		return
	}
	s.queries = append(s.queries, body.Query)
	s.answers = append(s.answers, s.remote)
	qid := "q" + strconv.Itoa(len(s.answers)-1)
	writeJSON(w, map[string]string{"ID": qid, "Path": "/queries/" + qid})
}

// answerSetLocked resolves a query id to its answers.
func (s *Server) answerSetLocked(qid string) ([]map[string]string, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(qid, "q"))
	if err != nil || n < 0 || n >= len(s.answers) {
		return nil, false
	}
	return s.answers[n], true
}

func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	answers, ok := s.answerSetLocked(r.PathValue("qid"))
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	ids := make([]string, len(answers))
	for i := range answers {
		ids[i] = strconv.Itoa(i)
	}
	writeJSON(w, ids)
}

func (s *Server) answerLocked(qid, aid string) (map[string]string, bool) {
	answers, ok := s.answerSetLocked(qid)
	if !ok {
		return nil, false
	}
	n, err := strconv.Atoi(aid)
	if err != nil || n < 0 || n >= len(answers) {
		return nil, false
	}
	return answers[n], true
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tags, ok := s.answerLocked(r.PathValue("qid"), r.PathValue("aid"))
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, tags)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.answerLocked(r.PathValue("qid"), r.PathValue("aid"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.retrieves++
	if !s.retrieveFails {
		inst := make(map[string]string, len(tags)+1)
		for k, v := range tags {
			inst[k] = v
		}
		inst[domain.TagSOPInstanceUID] = tags[domain.TagSeriesInstanceUID] + ".1"
		s.addLocked(inst, EncodeInstance(inst))
	}
	writeJSON(w, map[string]any{})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
