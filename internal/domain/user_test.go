package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile_HasNoPasswordField(t *testing.T) {
	typ := reflect.TypeOf(Profile{})
	for i := 0; i < typ.NumField(); i++ {
		assert.NotContains(t, typ.Field(i).Name, "Password")
	}
}

func TestUser_ProfileAndJSON(t *testing.T) {
	u := &User{
		ID:           uuid.New(),
		Username:     "alice",
		Email:        "a@x.com",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	p := u.Profile()
	assert.Equal(t, u.ID, p.ID)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "a@x.com", p.Email)
	assert.Equal(t, u.CreatedAt, p.CreatedAt)

	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(data), u.PasswordHash)

	data, err = json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+u.ID.String()+`","username":"alice","email":"a@x.com","createdAt":"2026-01-02T03:04:05Z"}`, string(data))
}
