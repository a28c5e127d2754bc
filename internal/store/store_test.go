package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HibiscusSOS/internal/models"
)

func newAlert(id string) models.Alert {
	return models.Alert{
		ID:           id,
		CreatorID:    "creator",
		Category:     models.CategoryMedical,
		Description:  "need help",
		Lat:          28.60,
		Lng:          77.20,
		RadiusMeters: 2000,
		Status:       models.AlertActive,
		CreatedAt:    time.Now(),
	}
}

func TestApplyAlertIdempotent(t *testing.T) {
	s := NewAlertStore()

	var notified int
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeAlertAdded {
			notified++
		}
	})

	assert.True(t, s.ApplyAlert(newAlert("a1")))
	assert.False(t, s.ApplyAlert(newAlert("a1"))) // 重复录入为空操作
	assert.Equal(t, 1, notified)

	got, ok := s.Alert("a1")
	require.True(t, ok)
	assert.Equal(t, "a1", got.ID)
}

func TestApplyResponderUpdateDuplicateDelivery(t *testing.T) {
	s := NewAlertStore()
	s.ApplyAlert(newAlert("a1"))

	var notified int
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeResponderUpdate {
			notified++
		}
	})

	update := models.ResponderUpdate{
		AlertID:   "a1",
		UserID:    "u1",
		Status:    models.ResponderAccepted,
		Timestamp: time.Unix(10, 0),
	}

	// 同一事件经两条通道各送达一次
	assert.True(t, s.ApplyResponderUpdate(update))
	assert.False(t, s.ApplyResponderUpdate(update))
	assert.Equal(t, 1, notified)

	status, ok := s.MyResponse("a1", "u1")
	require.True(t, ok)
	assert.Equal(t, models.ResponderAccepted, status)
}

func TestApplyResponderUpdateLateLoser(t *testing.T) {
	s := NewAlertStore()
	s.ApplyAlert(newAlert("a1"))

	accepted := models.ResponderUpdate{
		AlertID: "a1", UserID: "u1",
		Status: models.ResponderAccepted, Timestamp: time.Unix(10, 0),
	}
	require.True(t, s.ApplyResponderUpdate(accepted))

	// 轮询迟到送达的更早 rejected 不得覆盖
	lateRejected := models.ResponderUpdate{
		AlertID: "a1", UserID: "u1",
		Status: models.ResponderRejected, Timestamp: time.Unix(8, 0),
	}
	assert.False(t, s.ApplyResponderUpdate(lateRejected))

	status, _ := s.MyResponse("a1", "u1")
	assert.Equal(t, models.ResponderAccepted, status)
}

func TestApplyResponderUpdateAdmitsUnseenKey(t *testing.T) {
	s := NewAlertStore()

	// 告警本体尚未送达，响应者更新先到
	update := models.ResponderUpdate{
		AlertID: "a9", UserID: "u1",
		Status: models.ResponderPending, Timestamp: time.Unix(1, 0),
	}
	assert.True(t, s.ApplyResponderUpdate(update))

	status, ok := s.MyResponse("a9", "u1")
	require.True(t, ok)
	assert.Equal(t, models.ResponderPending, status)
}

func TestNotifyOnlyOnVisibleChange(t *testing.T) {
	s := NewAlertStore()
	s.ApplyAlert(newAlert("a1"))

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.ApplyResponderUpdate(models.ResponderUpdate{
		AlertID: "a1", UserID: "u1",
		Status: models.ResponderPending, Timestamp: time.Unix(1, 0),
	})
	s.ApplyResponderUpdate(models.ResponderUpdate{
		AlertID: "a1", UserID: "u1",
		Status: models.ResponderPending, Timestamp: time.Unix(2, 0),
	})

	assert.Len(t, changes, 1)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	s := NewAlertStore()

	var notified int
	id := s.Subscribe(func(Change) { notified++ })
	s.Unsubscribe(id)
	s.Unsubscribe(id) // 重复注销安全

	s.ApplyAlert(newAlert("a1"))
	assert.Equal(t, 0, notified)
}

func TestObserverCanReadStore(t *testing.T) {
	s := NewAlertStore()

	var seen models.ResponderStatus
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeResponderUpdate {
			seen, _ = s.MyResponse(c.Update.AlertID, c.Update.UserID)
		}
	})

	s.ApplyAlert(newAlert("a1"))
	s.ApplyResponderUpdate(models.ResponderUpdate{
		AlertID: "a1", UserID: "u1",
		Status: models.ResponderAccepted, Timestamp: time.Now(),
	})
	assert.Equal(t, models.ResponderAccepted, seen)
}

func TestDeactivate(t *testing.T) {
	s := NewAlertStore()
	s.ApplyAlert(newAlert("a1"))

	assert.True(t, s.Deactivate("a1", models.AlertResolved))
	assert.False(t, s.Deactivate("a1", models.AlertResolved))
	assert.Empty(t, s.ActiveAlerts())

	got, ok := s.Alert("a1")
	require.True(t, ok)
	assert.Equal(t, models.AlertResolved, got.Status)
}

func TestConcurrentProducers(t *testing.T) {
	s := NewAlertStore()
	s.ApplyAlert(newAlert("a1"))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(src int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.ApplyResponderUpdate(models.ResponderUpdate{
					AlertID: "a1", UserID: "u1",
					Status: models.ResponderAccepted, Timestamp: time.Unix(10, 0),
				})
				s.MyResponse("a1", "u1")
			}
		}(i)
	}
	wg.Wait()

	status, ok := s.MyResponse("a1", "u1")
	require.True(t, ok)
	assert.Equal(t, models.ResponderAccepted, status)
}

func TestNearbyCandidates(t *testing.T) {
	s := NewAlertStore()

	var notified int
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeNearbyUpdated {
			notified++
		}
	})

	s.SetNearbyCandidates([]models.Candidate{{UserID: "u1", Distance: 120}})
	got := s.NearbyCandidates()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, 1, notified)
}

func TestUpdateRadius(t *testing.T) {
	s := NewAlertStore()
	s.ApplyAlert(newAlert("a1"))

	var updates int
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeAlertUpdated {
			updates++
		}
	})

	assert.True(t, s.UpdateRadius("a1", 5000))
	got, _ := s.Alert("a1")
	assert.Equal(t, 5000.0, got.RadiusMeters)
	assert.Equal(t, 1, updates)

	// 半径未变或告警不存在均为空操作
	assert.False(t, s.UpdateRadius("a1", 5000))
	assert.False(t, s.UpdateRadius("missing", 1000))
	assert.Equal(t, 1, updates)
}

func TestApplyAlertBackfillsPlaceholder(t *testing.T) {
	s := NewAlertStore()

	// 响应者更新先于告警本体送达，建立占位记录
	s.ApplyResponderUpdate(models.ResponderUpdate{
		AlertID: "a1", UserID: "u1",
		Status: models.ResponderAccepted, Timestamp: time.Unix(10, 0),
	})

	assert.True(t, s.ApplyAlert(newAlert("a1")))

	got, ok := s.Alert("a1")
	require.True(t, ok)
	assert.Equal(t, "creator", got.CreatorID)
	require.Len(t, got.Responders, 1)
	assert.Equal(t, models.ResponderAccepted, got.Responders[0].Status)

	// 回填后再次投递同一告警为空操作
	assert.False(t, s.ApplyAlert(newAlert("a1")))
}
