package projector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/projector"
)

func TestParse(t *testing.T) {
	t.Run("empty expression returns defaults", func(t *testing.T) {
		assert.Equal(t, projector.DefaultFields, projector.Parse(""))
		assert.Equal(t, projector.DefaultFields, projector.Parse("   "))
	})

	t.Run("splits, trims and drops empty entries", func(t *testing.T) {
		fields := projector.Parse("title, abstract ,, authors.name")
		assert.Equal(t, []string{"title", "abstract", "authors.name"}, fields)
	})

	t.Run("whitespace-only entries collapse to defaults", func(t *testing.T) {
		assert.Equal(t, projector.DefaultFields, projector.Parse(" , , "))
	})
}

func TestProject_AlwaysIncludesPaperID(t *testing.T) {
	record := map[string]interface{}{
		"paperId": "p1",
		"title":   "A Paper",
	}

	out := projector.Project(record, []string{"title"})

	assert.Equal(t, "p1", out["paperId"])
	assert.Equal(t, "A Paper", out["title"])
}

func TestProject_MissingFieldSkippedNotNull(t *testing.T) {
	record := map[string]interface{}{"paperId": "p1"}

	out := projector.Project(record, []string{"abstract"})

	_, present := out["abstract"]
	assert.False(t, present, "a field absent from the record must not appear even as null")
}

func TestProject_NestedPath(t *testing.T) {
	record := map[string]interface{}{
		"paperId": "p1",
		"journal": map[string]interface{}{
			"name":   "Nature",
			"volume": "42",
		},
	}

	out := projector.Project(record, []string{"journal.name"})

	journal, ok := out["journal"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Nature", journal["name"])
	_, hasVolume := journal["volume"]
	assert.False(t, hasVolume)
}

func TestProject_ElementwiseOverSlice(t *testing.T) {
	record := map[string]interface{}{
		"paperId": "p1",
		"authors": []interface{}{
			map[string]interface{}{"authorId": "a1", "name": "Alice"},
			map[string]interface{}{"authorId": "a2", "name": "Bob"},
		},
	}

	out := projector.Project(record, []string{"authors.name"})

	authors, ok := out["authors"].([]interface{})
	require.True(t, ok)
	require.Len(t, authors, 2)
	first := authors[0].(map[string]interface{})
	assert.Equal(t, "Alice", first["name"])
}

func TestProject_SliceElementsKeepIdentityKeys(t *testing.T) {
	record := map[string]interface{}{
		"paperId": "p1",
		"authors": []interface{}{
			map[string]interface{}{"authorId": "a1", "name": "Alice", "affiliation": "MIT"},
		},
	}

	out := projector.Project(record, []string{"authors.name"})

	authors := out["authors"].([]interface{})
	first := authors[0].(map[string]interface{})
	assert.Equal(t, "Alice", first["name"])
	assert.Equal(t, "a1", first["authorId"], "element identity keys survive any projection")
	_, hasAffiliation := first["affiliation"]
	assert.False(t, hasAffiliation)
}

func TestProject_MultipleSubpathsThroughOneSlice(t *testing.T) {
	record := map[string]interface{}{
		"paperId": "p1",
		"citations": []interface{}{
			map[string]interface{}{"paperId": "c1", "title": "T1", "year": 2020.0, "venue": "ACL"},
		},
	}

	out := projector.Project(record, []string{"citations.title", "citations.year"})

	citations := out["citations"].([]interface{})
	first := citations[0].(map[string]interface{})
	assert.Equal(t, "T1", first["title"])
	assert.Equal(t, 2020.0, first["year"])
	_, hasVenue := first["venue"]
	assert.False(t, hasVenue)
}

func TestProject_Idempotent(t *testing.T) {
	record := map[string]interface{}{
		"paperId": "p1",
		"title":   "T",
		"journal": map[string]interface{}{"name": "Nature", "volume": "1"},
		"authors": []interface{}{
			map[string]interface{}{"authorId": "a1", "name": "Alice"},
		},
	}
	fields := []string{"title", "journal.name", "authors.name"}

	once := projector.Project(record, fields)
	twice := projector.Project(once, fields)

	assert.Equal(t, once, twice)
}

func TestProject_DuplicateFieldsDeduplicated(t *testing.T) {
	record := map[string]interface{}{"paperId": "p1", "title": "T"}

	out := projector.Project(record, []string{"title", "title", "paperId"})

	assert.Equal(t, map[string]interface{}{"paperId": "p1", "title": "T"}, out)
}

func TestValidate(t *testing.T) {
	t.Run("accepts well-formed paths", func(t *testing.T) {
		err := projector.Validate([]string{"title", "journal.name", "authors.name"})
		assert.NoError(t, err)
	})

	t.Run("rejects empty expression", func(t *testing.T) {
		err := projector.Validate([]string{""})
		require.Error(t, err)
		var sfErr *scerrors.SciCacheError
		require.ErrorAs(t, err, &sfErr)
	})

	t.Run("rejects a path with an empty segment", func(t *testing.T) {
		err := projector.Validate([]string{"authors..name"})
		require.Error(t, err)
	})

	t.Run("rejects a leading dot", func(t *testing.T) {
		err := projector.Validate([]string{".title"})
		require.Error(t, err)
	})
}
