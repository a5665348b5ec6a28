package training

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClickstream(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Interaction
		wantErr string
	}{
		{
			name:  "mixed date layouts and float ids",
			input: "cookie,node,event,event_date\n1,10,100,2024-01-01\n2.0,11,101,2024-01-02 10:30:00\n3,12,100,2024-01-03T08:00:00Z\n",
			want: []Interaction{
				{Cookie: 1, Node: 10, Event: 100, EventDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
				{Cookie: 2, Node: 11, Event: 101, EventDate: time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)},
				{Cookie: 3, Node: 12, Event: 100, EventDate: time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)},
			},
		},
		{
			name:  "columns resolved by name",
			input: "event_date,event,Node,cookie\n2024-01-01,100,10,1\n",
			want: []Interaction{
				{Cookie: 1, Node: 10, Event: 100, EventDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			},
		},
		{
			name:  "header only",
			input: "cookie,node,event,event_date\n",
			want:  nil,
		},
		{
			name:    "missing column",
			input:   "cookie,node,event\n1,2,3\n",
			wantErr: `missing column "event_date"`,
		},
		{
			name:    "fractional id",
			input:   "cookie,node,event,event_date\n1.5,10,100,2024-01-01\n",
			wantErr: `line 2: invalid cookie "1.5"`,
		},
		{
			name:    "string identifiers",
			input:   "cookie,node,event,event_date\nu1,A,100,2024-01-01\n",
			wantErr: `line 2: invalid cookie "u1"`,
		},
		{
			name:    "bad date",
			input:   "cookie,node,event,event_date\n1,10,100,yesterday\n",
			wantErr: `line 2: invalid event_date "yesterday"`,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: "missing header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClickstream(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEvents(t *testing.T) {
	got, err := parseEvents(strings.NewReader("event,is_contact\n100,1\n101,0\n102,1.0\n"))
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{100: true, 102: true}, got)
}

func TestLoadDataset(t *testing.T) {
	ctx := context.Background()
	store, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	t.Run("reads both files under the data path", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "datasets/a/"+ClickstreamFile,
			strings.NewReader("cookie,node,event,event_date\n1,10,100,2024-01-01\n")))
		require.NoError(t, store.Put(ctx, "datasets/a/"+EventsFile,
			strings.NewReader("event,is_contact\n100,1\n")))

		ds, err := LoadDataset(ctx, store, "datasets/a")
		require.NoError(t, err)
		assert.Len(t, ds.Clickstream, 1)
		assert.True(t, ds.ContactEvents[100])
	})

	t.Run("missing events file", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "datasets/b/"+ClickstreamFile,
			strings.NewReader("cookie,node,event,event_date\n")))

		_, err := LoadDataset(ctx, store, "datasets/b")
		require.ErrorIs(t, err, artifact.ErrNotFound)
		assert.Contains(t, err.Error(), EventsFile)
	})
}
