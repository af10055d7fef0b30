package events

import (
	"testing"
	"time"

	"postscript/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"unknown kind", `{"id":"a","kind":"renamed","comment_id":1,"version":1}`},
		{"missing comment", `{"id":"a","kind":"created","version":1}`},
		{"missing version", `{"id":"a","kind":"created","comment_id":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestOutboxConversion(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ev := New(KindRestored, &models.Comment{ID: 4, PostID: 9}, 7, at)

	row := ev.ToOutbox()
	assert.Equal(t, "restored", row.Kind)
	assert.Nil(t, row.DispatchedAt)

	back := FromOutbox(row)
	assert.Equal(t, ev, back)

	body, err := back.Encode()
	require.NoError(t, err)
	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, ev.CommentID, decoded.CommentID)
	assert.Equal(t, ev.Version, decoded.Version)
}
