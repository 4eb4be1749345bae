package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"Bt2Deck/config"
	"Bt2Deck/core/auth"
	"Bt2Deck/core/dj"
	"Bt2Deck/logger"
	"Bt2Deck/model"
	"Bt2Deck/repository"
	"Bt2Deck/storage"

	"github.com/gorilla/mux"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	trackRepo repository.TrackRepository
	setRepo   repository.SetRepository
	manager   *dj.SessionManager
	cfg       *config.Config

	hubMu sync.RWMutex
	hubs  map[string]*ConsoleHub
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	trackRepo repository.TrackRepository,
	setRepo repository.SetRepository,
	manager *dj.SessionManager,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		trackRepo: trackRepo,
		setRepo:   setRepo,
		manager:   manager,
		cfg:       cfg,
		hubs:      make(map[string]*ConsoleHub),
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Error("写入响应失败", logger.ErrorField(err))
		}
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// --- 会话 ---

// CreateSessionRequest represents the session creation request body
type CreateSessionRequest struct {
	Name            string `json:"name"`
	ControlPassword string `json:"control_password"`
}

// CreateSessionHandler 创建DJ会话并挂接其控制台hub
func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = "untitled session"
	}

	hub := NewConsoleHub()
	session, err := h.manager.Create(req.Name, req.ControlPassword, hub)
	if err != nil {
		logger.Error("创建会话失败", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	hub.Attach(session, h.trackRepo)

	h.hubMu.Lock()
	h.hubs[session.ID] = hub
	h.hubMu.Unlock()

	// 创建者直接拿到控制令牌，无需再走口令换取
	token, err := auth.GenerateControlToken(session.ID)
	if err != nil {
		logger.Error("生成控制令牌失败", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": session.ID,
		"name":       session.Name,
		"protected":  req.ControlPassword != "",
		"token":      token,
	})
}

// GetSessionHandler 返回会话当前状态快照
func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	session := h.manager.Get(id)
	if session == nil {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondWithJSON(w, http.StatusOK, session.Snapshot())
}

// CloseSessionHandler 销毁会话。受保护的会话要求控制令牌。
func (h *APIHandler) CloseSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	if err := h.authorizeControl(r, id); err != nil {
		respondWithError(w, http.StatusUnauthorized, err.Error())
		return
	}

	h.hubMu.Lock()
	hub, ok := h.hubs[id]
	if ok {
		delete(h.hubs, id)
	}
	h.hubMu.Unlock()
	if hub != nil {
		hub.CloseAll()
	}

	if err := h.manager.Close(id); err != nil {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// SessionTokenRequest represents the control token request body
type SessionTokenRequest struct {
	ControlPassword string `json:"control_password"`
}

// SessionTokenHandler 用控制口令换取控制令牌
func (h *APIHandler) SessionTokenHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]

	var req SessionTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.manager.Authorize(id, req.ControlPassword); err != nil {
		logger.Warn("会话授权失败", logger.String("session", id))
		respondWithError(w, http.StatusUnauthorized, "Invalid control password")
		return
	}

	token, err := auth.GenerateControlToken(id)
	if err != nil {
		logger.Error("生成控制令牌失败", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"token": token})
}

// authorizeControl 校验请求的控制权限：Bearer令牌或未设口令的会话直接放行
func (h *APIHandler) authorizeControl(r *http.Request, sessionID string) error {
	// 未设口令的会话任何人可控制
	if err := h.manager.Authorize(sessionID, ""); err == nil {
		return nil
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	token := ""
	if len(parts) == 2 && parts[0] == "Bearer" {
		token = parts[1]
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return fmt.Errorf("control token required")
	}

	claims, err := auth.ParseControlToken(token)
	if err != nil {
		return fmt.Errorf("invalid control token")
	}
	if claims.SessionID != sessionID {
		return fmt.Errorf("control token is for another session")
	}
	return nil
}

// --- 曲目 ---

// GetTracksHandler 返回全部曲目
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.trackRepo.GetAllTracks()
	if err != nil {
		logger.Error("查询曲目列表失败", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to list tracks")
		return
	}
	respondWithJSON(w, http.StatusOK, tracks)
}

// RegisterTrackRequest 曲目登记请求。对象路径只在登记时可写，
// 之后对外的Track JSON不再暴露。
type RegisterTrackRequest struct {
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	DurationMs   float64 `json:"duration_ms"`
	AudioPath    string  `json:"audio_path"`
	WaveformPath string  `json:"waveform_path"`
}

// RegisterTrackHandler 登记曲目元数据。音频与波形对象由分析器另行上传。
func (h *APIHandler) RegisterTrackHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondWithError(w, http.StatusBadRequest, "Track title is required")
		return
	}
	if req.DurationMs <= 0 {
		respondWithError(w, http.StatusBadRequest, "Track duration_ms must be positive")
		return
	}

	track := model.Track{
		Title:          req.Title,
		Artist:         req.Artist,
		DurationMs:     req.DurationMs,
		AudioPath:      req.AudioPath,
		WaveformPath:   req.WaveformPath,
		AnalysisStatus: "pending",
	}

	id, err := h.trackRepo.CreateTrack(&track)
	if err != nil {
		logger.Error("登记曲目失败", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to register track")
		return
	}
	track.ID = id
	respondWithJSON(w, http.StatusCreated, track)
}

// GetTrackHandler 返回单个曲目
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid track id")
		return
	}

	track, err := h.trackRepo.GetTrackByID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get track")
		return
	}
	if track == nil {
		respondWithError(w, http.StatusNotFound, "Track not found")
		return
	}
	respondWithJSON(w, http.StatusOK, track)
}

// DeleteTrackHandler 删除曲目
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid track id")
		return
	}
	if err := h.trackRepo.DeleteTrack(id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete track")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// UpdateAnalysisRequest 分析器回写的分析结果
type UpdateAnalysisRequest struct {
	BPM             *float64 `json:"bpm"`
	BPMConfidence   float64  `json:"bpm_confidence"`
	BeatOffsetMs    float64  `json:"beat_offset_ms"`
	Key             *string  `json:"key"`
	KeyConfidence   float64  `json:"key_confidence"`
	HighlightTimeMs *float64 `json:"highlight_time_ms"`
	Energy          float64  `json:"energy"`
	Danceability    float64  `json:"danceability"`
}

// UpdateAnalysisHandler 接收分析器产出的BPM、调性、高潮点等结果
func (h *APIHandler) UpdateAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid track id")
		return
	}

	track, err := h.trackRepo.GetTrackByID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get track")
		return
	}
	if track == nil {
		respondWithError(w, http.StatusNotFound, "Track not found")
		return
	}

	var req UpdateAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	track.BPM = req.BPM
	track.BPMConfidence = req.BPMConfidence
	track.BeatOffsetMs = req.BeatOffsetMs
	track.Key = req.Key
	track.KeyConfidence = req.KeyConfidence
	track.HighlightTimeMs = req.HighlightTimeMs
	track.Energy = req.Energy
	track.Danceability = req.Danceability
	track.AnalysisStatus = "completed"

	if err := h.trackRepo.UpdateAnalysis(track); err != nil {
		logger.Error("更新分析结果失败", logger.Int64("trackID", id), logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to update analysis")
		return
	}

	logger.Info("曲目分析结果已更新", logger.Int64("trackID", id))
	respondWithJSON(w, http.StatusOK, track)
}

// --- 保存的DJ组合 ---

// GetSetsHandler 列出保存的组合
func (h *APIHandler) GetSetsHandler(w http.ResponseWriter, r *http.Request) {
	sets, err := h.setRepo.GetAllSets()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list sets")
		return
	}
	respondWithJSON(w, http.StatusOK, sets)
}

// CreateSetHandler 保存一个组合
func (h *APIHandler) CreateSetHandler(w http.ResponseWriter, r *http.Request) {
	var set model.DJSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(set.Name) == "" {
		respondWithError(w, http.StatusBadRequest, "Set name is required")
		return
	}
	if err := h.setRepo.CreateSet(&set); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save set")
		return
	}
	respondWithJSON(w, http.StatusCreated, set)
}

// GetSetHandler 返回单个组合
func (h *APIHandler) GetSetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid set id")
		return
	}
	set, err := h.setRepo.GetSetByID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get set")
		return
	}
	if set == nil {
		respondWithError(w, http.StatusNotFound, "Set not found")
		return
	}
	respondWithJSON(w, http.StatusOK, set)
}

// DeleteSetHandler 删除组合
func (h *APIHandler) DeleteSetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid set id")
		return
	}
	if err := h.setRepo.DeleteSet(id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete set")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- MinIO对象服务 ---

// AudioObjectHandler 从MinIO流式返回音频对象
func (h *APIHandler) AudioObjectHandler(w http.ResponseWriter, r *http.Request) {
	objectPath := strings.TrimPrefix(r.URL.Path, "/")

	var contentType string
	switch {
	case strings.HasSuffix(objectPath, ".mp3"):
		contentType = "audio/mpeg"
	case strings.HasSuffix(objectPath, ".wav"):
		contentType = "audio/wav"
	case strings.HasSuffix(objectPath, ".flac"):
		contentType = "audio/flac"
	case strings.HasSuffix(objectPath, ".json"):
		contentType = "application/json"
	default:
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000") // 缓存一年

	if err := storage.StreamObject(r.Context(), objectPath, w); err != nil {
		logger.Warn("对象服务失败", logger.String("path", objectPath), logger.ErrorField(err))
	}
}

func parseID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[key], 10, 64)
}
