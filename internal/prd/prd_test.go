package prd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc() *Document {
	return &Document{
		Title: "Checkout flow",
		Stories: []Story{
			{ID: 1, Title: "Add cart page"},
			{ID: 2, Title: "Add payment form"},
			{ID: 3, Title: "Add receipt email"},
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, doc().Validate())

	bad := doc()
	bad.Stories[1].ID = 1
	assert.Error(t, bad.Validate(), "duplicate ids rejected")

	bad = doc()
	bad.Stories[0].ID = 0
	assert.Error(t, bad.Validate(), "non-positive ids rejected")

	bad = doc()
	bad.Title = ""
	assert.Error(t, bad.Validate())
}

func TestNextStory_Order(t *testing.T) {
	d := doc()

	s := d.NextStory(nil)
	require.NotNil(t, s)
	assert.Equal(t, 1, s.ID)

	// Passing story 1 moves selection to story 2.
	d.Stories[0].Passes = true
	s = d.NextStory([]int{1})
	require.NotNil(t, s)
	assert.Equal(t, 2, s.ID)

	// A completed-but-unpassed story is not retried.
	s = d.NextStory([]int{1, 2})
	require.NotNil(t, s)
	assert.Equal(t, 3, s.ID)
}

func TestNextStory_Empty(t *testing.T) {
	d := &Document{Title: "empty"}
	assert.Nil(t, d.NextStory(nil))
}

func TestNextStory_AllPassed(t *testing.T) {
	d := doc()
	for i := range d.Stories {
		d.Stories[i].Passes = true
	}
	assert.Nil(t, d.NextStory(nil))
	assert.True(t, d.AllPassed())
}

func TestProgress_Record(t *testing.T) {
	var p Progress
	now := time.Now()

	p.Record(1, "abc123", "feat: [1] Add cart page", now)
	p.Record(1, "def456", "dup", now) // no-op

	assert.Equal(t, []int{1}, p.CompletedStoryIDs)
	require.Len(t, p.Commits, 1)
	assert.Equal(t, "abc123", p.Commits[0].SHA)
	assert.True(t, p.Has(1))
	assert.False(t, p.Has(2))
}

func TestNewlyPassed(t *testing.T) {
	d := doc()
	d.Stories[0].Passes = true
	d.Stories[2].Passes = true

	newly := NewlyPassed(d, []int{1})
	require.Len(t, newly, 1)
	assert.Equal(t, 3, newly[0].ID)
}

func TestNewlyPassed_SoundAgainstProgress(t *testing.T) {
	// Every recorded completion must correspond to a passing story.
	d := doc()
	d.Stories[0].Passes = true

	var p Progress
	for _, s := range NewlyPassed(d, p.CompletedStoryIDs) {
		p.Record(s.ID, "sha", "msg", time.Now())
	}

	for _, c := range p.Commits {
		s := d.Story(c.StoryID)
		require.NotNil(t, s)
		assert.True(t, s.Passes)
	}
}

func TestParse(t *testing.T) {
	raw := `{"title":"T","stories":[{"id":1,"title":"S","passes":false}]}`
	d, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "T", d.Title)

	_, err = Parse([]byte(`{"title":"T","stories":[{"id":-1,"title":"S"}]}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}
