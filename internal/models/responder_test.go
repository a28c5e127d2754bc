package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"HibiscusSOS/pkg/geo"
)

func TestResolveStatus(t *testing.T) {
	t8 := time.Unix(8, 0)
	t10 := time.Unix(10, 0)

	// pending -> 终态总是生效
	assert.True(t, ResolveStatus(ResponderPending, t10, ResponderAccepted, t8))
	assert.True(t, ResolveStatus(ResponderPending, t10, ResponderRejected, t8))

	// 相同状态为幂等空操作
	assert.False(t, ResolveStatus(ResponderAccepted, t8, ResponderAccepted, t10))
	assert.False(t, ResolveStatus(ResponderPending, t8, ResponderPending, t10))

	// 终态不回退到pending
	assert.False(t, ResolveStatus(ResponderAccepted, t8, ResponderPending, t10))

	// 迟到的更早时间戳不覆盖已记录的终态
	assert.False(t, ResolveStatus(ResponderAccepted, t10, ResponderRejected, t8))

	// 更晚的终态按逻辑时钟胜出
	assert.True(t, ResolveStatus(ResponderRejected, t8, ResponderAccepted, t10))
	assert.True(t, ResolveStatus(ResponderAccepted, t8, ResponderRejected, t10))

	// 时间戳完全相等时 accepted 优先
	assert.True(t, ResolveStatus(ResponderRejected, t10, ResponderAccepted, t10))
	assert.False(t, ResolveStatus(ResponderAccepted, t10, ResponderRejected, t10))
}

func TestFingerprintStable(t *testing.T) {
	origin := geo.Point{Lat: 28.60, Lng: 77.20}

	fp1 := Fingerprint("u1", origin, "help")
	fp2 := Fingerprint("u1", origin, "help")
	assert.Equal(t, fp1, fp2)

	assert.NotEqual(t, fp1, Fingerprint("u2", origin, "help"))
	assert.NotEqual(t, fp1, Fingerprint("u1", geo.Point{Lat: 28.61, Lng: 77.20}, "help"))
	assert.NotEqual(t, fp1, Fingerprint("u1", origin, "other"))
}

func TestCategoryAndStatusValidation(t *testing.T) {
	assert.True(t, CategoryMedical.Valid())
	assert.True(t, CategorySafety.Valid())
	assert.True(t, CategoryOther.Valid())
	assert.False(t, Category("fire").Valid())

	assert.True(t, ResponderAccepted.Terminal())
	assert.True(t, ResponderRejected.Terminal())
	assert.False(t, ResponderPending.Terminal())
	assert.False(t, ResponderStatus("maybe").Valid())
}
