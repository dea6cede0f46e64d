package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCourseRequestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CourseRequest{Keyword: "Go"}.Validate())
	assert.NoError(t, CourseRequest{Keyword: "Go", Difficulty: DifficultyExpert}.Validate())
	assert.ErrorIs(t, CourseRequest{Keyword: "  "}.Validate(), ErrInvalidRequest)
	assert.ErrorIs(t, CourseRequest{Keyword: "Go", Difficulty: "wizard"}.Validate(), ErrInvalidRequest)
}
