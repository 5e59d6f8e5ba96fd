package evidence

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	require.Equal(t, "evidence/photo/42/site.jpg", ObjectKey("photo", "42", "site.jpg"))
	require.Equal(t, "evidence/geo_point/42/a_b.json", ObjectKey("geo point", "42", "../../a b.json"))
	require.Equal(t, "evidence/photo/42/object", ObjectKey("photo", "42", "/"))
}

func TestPutWithoutClient(t *testing.T) {
	s := &minioStore{}
	_, err := s.Put(context.Background(), "photo", "a.jpg", "image/jpeg", strings.NewReader("x"), 1)
	require.ErrorIs(t, err, ErrStorageDisabled)
}
