package convlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	w := New(dir, loc)
	w.now = func() time.Time { return time.Date(2024, 3, 9, 17, 4, 5, 0, time.UTC) }
	return w, dir
}

func TestAppendAndRead(t *testing.T) {
	w, dir := newTestWriter(t)

	require.NoError(t, w.Append("shop-1", "5511999990000@c.us", RoleClient, "oi\ntudo bem?"))
	require.NoError(t, w.Append("shop-1", "5511999990000@c.us", RoleBot, "Olá!"))

	content, err := w.Read("shop-1", "5511999990000@c.us")
	require.NoError(t, err)
	assert.Equal(t,
		"[09/03/2024, 14:04:05] Cliente: oi tudo bem?\n"+
			"[09/03/2024, 14:04:05] Bot: Olá!\n",
		content)

	_, err = os.Stat(filepath.Join(dir, "shop-1", "5511999990000.txt"))
	assert.NoError(t, err)
}

func TestReadMissing(t *testing.T) {
	w, _ := newTestWriter(t)
	_, err := w.Read("shop-1", "5511000000000@c.us")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPathRejectsTraversal(t *testing.T) {
	w, dir := newTestWriter(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0644))

	cases := []struct {
		device, user string
		want         error
	}{
		{"shop-1", "5511999990000", ErrInvalidUser},
		{"shop-1", "12036304@g.us", ErrInvalidUser},
		{"shop-1", "../secret@c.us", ErrInvalidUser},
		{"shop-1", "@c.us", ErrInvalidUser},
		{"..", "5511999990000@c.us", ErrInvalidDevice},
		{"shop/1", "5511999990000@c.us", ErrInvalidDevice},
		{"", "5511999990000@c.us", ErrInvalidDevice},
	}
	for _, tc := range cases {
		_, err := w.Read(tc.device, tc.user)
		assert.ErrorIs(t, err, tc.want, "%s %s", tc.device, tc.user)
	}
}
