package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/logger"
)

// ChangeKind 店内可见状态变化类型
type ChangeKind string

const (
	ChangeAlertAdded      ChangeKind = "alert_added"
	ChangeAlertUpdated    ChangeKind = "alert_updated"
	ChangeAlertClosed     ChangeKind = "alert_closed"
	ChangeResponderUpdate ChangeKind = "responder_update"
	ChangeNearbyUpdated   ChangeKind = "nearby_updated"
)

// Change 一次已生效的状态变化，同步推送给所有观察者
type Change struct {
	Kind   ChangeKind
	Alert  *models.Alert
	Update *models.ResponderUpdate
}

// Observer 观察者回调
type Observer func(Change)

type responderRec struct {
	status    models.ResponderStatus
	updatedAt time.Time
	name      string
	contact   string
}

type alertState struct {
	alert      models.Alert
	responders map[string]*responderRec
}

// AlertStore 告警与响应者状态的唯一权威内存集合。
// 推送监听、轮询循环与本地 respond 三个并发来源的全部变更
// 都经由互斥锁串行进入；读写本身不阻塞
type AlertStore struct {
	mu        sync.Mutex
	alerts    map[string]*alertState
	nearby    []models.Candidate
	observers map[int]Observer
	nextObsID int
}

// NewAlertStore 创建空store
func NewAlertStore() *AlertStore {
	return &AlertStore{
		alerts:    make(map[string]*alertState),
		observers: make(map[int]Observer),
	}
}

// Subscribe 注册观察者，返回用于注销的句柄
func (s *AlertStore) Subscribe(obs Observer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextObsID++
	id := s.nextObsID
	s.observers[id] = obs
	return id
}

// Unsubscribe 注销观察者，重复注销为空操作
func (s *AlertStore) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, id)
}

// ApplyAlert 录入新告警；已存在时为空操作（重复投递幂等）。
// 例外：响应者更新先到而建立的占位记录会被告警本体回填。
// 返回是否产生可见变化
func (s *AlertStore) ApplyAlert(alert models.Alert) bool {
	s.mu.Lock()
	if existing, exists := s.alerts[alert.ID]; exists {
		if existing.alert.CreatorID != "" || alert.CreatorID == "" {
			s.mu.Unlock()
			return false
		}
		responders := existing.responders
		existing.alert = alert
		existing.alert.Responders = nil
		for _, r := range alert.Responders {
			if _, seen := responders[r.UserID]; !seen {
				responders[r.UserID] = &responderRec{
					status:    r.Status,
					updatedAt: r.UpdatedAt,
					name:      r.Name,
					contact:   r.Contact,
				}
			}
		}
		snapshot := s.snapshotLocked(existing)
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeAlertUpdated, Alert: &snapshot})
		return true
	}

	st := &alertState{
		alert:      alert,
		responders: make(map[string]*responderRec),
	}
	st.alert.Responders = nil
	for _, r := range alert.Responders {
		st.responders[r.UserID] = &responderRec{
			status:    r.Status,
			updatedAt: r.UpdatedAt,
			name:      r.Name,
			contact:   r.Contact,
		}
	}
	s.alerts[alert.ID] = st
	snapshot := s.snapshotLocked(st)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAlertAdded, Alert: &snapshot})
	return true
}

// ApplyResponderUpdate 按终态竞争规则合并一次响应者状态更新。
// 未知的 (alertId,userId) 也会被录入——store 必须能接收
// 并非由本端发起广播的响应者记录。仅在可见状态真正变化时通知
func (s *AlertStore) ApplyResponderUpdate(update models.ResponderUpdate) bool {
	if !update.Status.Valid() {
		logger.Warn("dropping responder update with unknown status",
			zap.String("alert_id", update.AlertID), zap.String("status", string(update.Status)))
		return false
	}

	s.mu.Lock()
	st, ok := s.alerts[update.AlertID]
	if !ok {
		// 远端先于告警本体送达的响应者更新：建立占位告警状态
		st = &alertState{
			alert:      models.Alert{ID: update.AlertID, Status: models.AlertActive},
			responders: make(map[string]*responderRec),
		}
		s.alerts[update.AlertID] = st
	}

	rec, seen := st.responders[update.UserID]
	if !seen {
		st.responders[update.UserID] = &responderRec{
			status:    update.Status,
			updatedAt: update.Timestamp,
		}
	} else {
		if !models.ResolveStatus(rec.status, rec.updatedAt, update.Status, update.Timestamp) {
			s.mu.Unlock()
			return false
		}
		rec.status = update.Status
		rec.updatedAt = update.Timestamp
	}
	s.mu.Unlock()

	u := update
	s.notify(Change{Kind: ChangeResponderUpdate, Update: &u})
	return true
}

// UpdateRadius 更新已录入告警的广播半径，告警不存在或半径未变时为空操作
func (s *AlertStore) UpdateRadius(alertID string, radiusMeters float64) bool {
	s.mu.Lock()
	st, ok := s.alerts[alertID]
	if !ok || st.alert.RadiusMeters == radiusMeters {
		s.mu.Unlock()
		return false
	}
	st.alert.RadiusMeters = radiusMeters
	snapshot := s.snapshotLocked(st)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAlertUpdated, Alert: &snapshot})
	return true
}

// Deactivate 将告警标记为终结状态（resolved/cancelled），仅影响可见性
func (s *AlertStore) Deactivate(alertID string, status models.AlertStatus) bool {
	s.mu.Lock()
	st, ok := s.alerts[alertID]
	if !ok || st.alert.Status == status {
		s.mu.Unlock()
		return false
	}
	st.alert.Status = status
	snapshot := s.snapshotLocked(st)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAlertClosed, Alert: &snapshot})
	return true
}

// SetNearbyCandidates 更新附近候选人查询结果
func (s *AlertStore) SetNearbyCandidates(candidates []models.Candidate) {
	s.mu.Lock()
	s.nearby = make([]models.Candidate, len(candidates))
	copy(s.nearby, candidates)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNearbyUpdated})
}

// NearbyCandidates 读取最近一次候选人查询结果
func (s *AlertStore) NearbyCandidates() []models.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Candidate, len(s.nearby))
	copy(out, s.nearby)
	return out
}

// MyResponse 查询指定用户对指定告警的当前状态，纯读取
func (s *AlertStore) MyResponse(alertID, userID string) (models.ResponderStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.alerts[alertID]
	if !ok {
		return "", false
	}
	rec, ok := st.responders[userID]
	if !ok {
		return "", false
	}
	return rec.status, true
}

// Alert 返回告警快照（含响应者），不暴露内部引用
func (s *AlertStore) Alert(alertID string) (models.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.alerts[alertID]
	if !ok {
		return models.Alert{}, false
	}
	return s.snapshotLocked(st), true
}

// ActiveAlerts 返回所有进行中的告警快照
func (s *AlertStore) ActiveAlerts() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Alert, 0, len(s.alerts))
	for _, st := range s.alerts {
		if st.alert.Active() {
			out = append(out, s.snapshotLocked(st))
		}
	}
	return out
}

func (s *AlertStore) snapshotLocked(st *alertState) models.Alert {
	snapshot := st.alert
	snapshot.Responders = make([]models.Responder, 0, len(st.responders))
	for userID, rec := range st.responders {
		snapshot.Responders = append(snapshot.Responders, models.Responder{
			AlertID:   st.alert.ID,
			UserID:    userID,
			Status:    rec.status,
			Name:      rec.name,
			Contact:   rec.contact,
			UpdatedAt: rec.updatedAt,
		})
	}
	return snapshot
}

// notify 在变更调用返回前同步通知全部观察者。
// 回调在锁外执行，观察者可以安全地回读store
func (s *AlertStore) notify(change Change) {
	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.mu.Unlock()

	for _, obs := range observers {
		obs(change)
	}
}
