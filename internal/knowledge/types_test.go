package knowledge

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTag_FamilyAndQualifier(t *testing.T) {
	assert.Equal(t, "code", Code("go").Family())
	assert.Equal(t, "go", Code("go").Qualifier())
	assert.Equal(t, "archive", Archive("zip").Family())
	assert.Equal(t, "zip", Archive("zip").Qualifier())
	assert.Equal(t, "markdown", FormatMarkdown.Family())
	assert.Equal(t, "", FormatMarkdown.Qualifier())
	assert.True(t, Code("python").IsCode())
	assert.False(t, FormatText.IsCode())
	assert.True(t, Archive("tar").IsArchive())
}

func TestKnownCodeLanguage(t *testing.T) {
	assert.True(t, KnownCodeLanguage("go"))
	assert.True(t, KnownCodeLanguage("python"))
	assert.False(t, KnownCodeLanguage("cobol"))
	assert.False(t, KnownCodeLanguage(""))
}

func TestDocType_Valid(t *testing.T) {
	assert.True(t, DocTypeFile.Valid())
	assert.True(t, DocTypeSessionExport.Valid())
	assert.False(t, DocType("webpage").Valid())
}

func TestMessageRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleTool.Valid())
	assert.False(t, MessageRole("agent").Valid())
}

func TestNewChunkID_Deterministic(t *testing.T) {
	docID := NewDocumentID()

	a, err := NewChunkID(docID, 0)
	require.NoError(t, err)
	b, err := NewChunkID(docID, 0)
	require.NoError(t, err)
	c, err := NewChunkID(docID, 1)
	require.NoError(t, err)

	assert.Equal(t, a, b, "same document and ordinal must give same id")
	assert.NotEqual(t, a, c, "different ordinals must differ")

	other, err := NewChunkID(NewDocumentID(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, a, other, "different documents must differ")
}

func TestNewChunkID_BadNamespace(t *testing.T) {
	_, err := NewChunkID("not-a-uuid", 0)
	require.Error(t, err)
}

func TestPrefixedIDShape(t *testing.T) {
	re := regexp.MustCompile(`^sess_\d{13}_[0-9a-f]{8}$`)
	id := NewSessionID()
	assert.True(t, re.MatchString(id), "unexpected id shape: %s", id)

	assert.True(t, strings.HasPrefix(NewActionID(), "act_"))
	assert.True(t, strings.HasPrefix(NewMessageID(), "msg_"))
	assert.True(t, strings.HasPrefix(NewSnippetID(), "snip_"))
}

func TestStoreWriteError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreWriteError("vi", cause)

	assert.True(t, errors.Is(err, ErrStoreWrite))
	assert.Equal(t, "vi", FailedStore(err))
	assert.ErrorContains(t, err, "connection refused")

	// Wrapping another level must not lose the store name.
	wrapped := errors.Join(errors.New("persist"), err)
	assert.Equal(t, "vi", FailedStore(wrapped))
	assert.Equal(t, "", FailedStore(cause))
}

func TestValidationf(t *testing.T) {
	err := Validationf("field %s is required", "project")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.ErrorContains(t, err, "project is required")
}
