package catalog

import (
	"testing"

	"github.com/cuongbtq/genqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSubstitutesUploadedFile(t *testing.T) {
	app := App{
		Key:      "anime-portrait",
		Media:    MediaImage,
		WebappID: "1937084629516193794",
		Fields: []Field{
			{NodeID: "1", FieldName: "image", Value: UploadRef()},
			{NodeID: "2", FieldName: "value", Value: LiteralValue("6")},
		},
	}

	got := app.Resolve("F123")

	assert.Equal(t, []NodeAssignment{
		{NodeID: "1", FieldName: "image", FieldValue: "F123"},
		{NodeID: "2", FieldName: "value", FieldValue: "6"},
	}, got)
}

func TestLiteralMatchingOldSentinelIsNotSubstituted(t *testing.T) {
	app := App{Fields: []Field{
		{NodeID: "1", FieldName: "image", Value: UploadRef()},
		{NodeID: "3", FieldName: "text", Value: LiteralValue("user_upload")},
	}}

	got := app.Resolve("F9")

	assert.Equal(t, "user_upload", got[1].FieldValue)
}

func TestLoad(t *testing.T) {
	c, err := Load("testdata/apps.yaml")
	require.NoError(t, err)

	apps := c.List()
	require.Len(t, apps, 2)
	assert.Equal(t, "anime-portrait", apps[0].Key)
	assert.Equal(t, "dance-video", apps[1].Key)
	assert.Equal(t, MediaVideo, apps[1].Media)

	app, err := c.Lookup("anime-portrait")
	require.NoError(t, err)
	assert.Equal(t, "1937084629516193794", app.WebappID)
	assert.Equal(t, UploadedFileRef, app.Fields[0].Value.Kind)
	assert.Equal(t, LiteralValue("6"), app.Fields[1].Value)
}

func TestLookupUnknown(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	_, err = c.Lookup("missing")
	assert.ErrorIs(t, err, domain.ErrUnknownApp)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		errString string
	}{
		{
			name:      "malformed yaml",
			yaml:      "apps: [",
			errString: "failed to parse catalog file",
		},
		{
			name: "missing webapp id",
			yaml: `
apps:
  - key: a
    fields:
      - {node_id: "1", field_name: image, upload: true}
`,
			errString: "webapp_id is required",
		},
		{
			name: "no upload field",
			yaml: `
apps:
  - key: a
    webapp_id: "1"
    fields:
      - {node_id: "1", field_name: value, value: "6"}
`,
			errString: "no field takes the uploaded file",
		},
		{
			name: "upload and value together",
			yaml: `
apps:
  - key: a
    webapp_id: "1"
    fields:
      - {node_id: "1", field_name: image, upload: true, value: "x"}
`,
			errString: "sets both upload and value",
		},
		{
			name: "duplicate key",
			yaml: `
apps:
  - key: a
    webapp_id: "1"
    fields:
      - {node_id: "1", field_name: image, upload: true}
  - key: a
    webapp_id: "2"
    fields:
      - {node_id: "1", field_name: image, upload: true}
`,
			errString: "duplicate app key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
