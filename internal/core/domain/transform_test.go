package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestRotation_Normalized(t *testing.T) {
	assert.Equal(t, 90, Rotation(-270).Normalized())
	assert.Equal(t, 180, Rotation(-180).Normalized())
	assert.Equal(t, 270, Rotation(-90).Normalized())
	assert.Equal(t, 0, Rotation(0).Normalized())
	assert.Equal(t, 270, Rotation(270).Normalized())
	assert.False(t, Rotation(45).Valid())
	assert.False(t, Rotation(360).Valid())
}

func TestPageWindow(t *testing.T) {
	s, e, err := PageWindow(nil, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 10}, []int{s, e})

	s, e, err = PageWindow(intPtr(4), intPtr(4), 10)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, []int{s, e}, "single page window")

	_, _, err = PageWindow(intPtr(5), intPtr(2), 10)
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, MsgStartAfterEnd, jobErr.Message)

	_, _, err = PageWindow(intPtr(3), intPtr(11), 10)
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, MsgEndExceedsPages, jobErr.Message)

	_, _, err = PageWindow(intPtr(0), nil, 10)
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, MsgStartBelowFirst, jobErr.Message)
}

func TestTransformInput_Validate(t *testing.T) {
	valid := TransformInput{
		SourceFiles: []SourceFile{{ID: "s1", URI: "http://a"}},
		Documents: []Document{{
			ID:          "d1",
			Parts:       []Part{{SourceFile: "s1"}},
			Attachments: []Attachment{{SourceFile: "s1", Name: "copy.pdf"}},
		}},
	}
	assert.NoError(t, valid.Validate())

	unknown := valid
	unknown.Documents = []Document{{ID: "d1", Parts: []Part{{SourceFile: "s9"}}}}
	assert.Error(t, unknown.Validate())

	dup := valid
	dup.SourceFiles = append(dup.SourceFiles, SourceFile{ID: "s1", URI: "http://b"})
	assert.Error(t, dup.Validate())
}
