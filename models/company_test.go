package models_test

import (
	"context"
	"testing"

	"bitbucket.org/intellihub/hub_backend/models"
	"github.com/stretchr/testify/require"
)

func TestFindCompaniesByNameSubstringEscapesWildcards(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Company{ID: 1, Name: "ABC Consulting"}).Error)
	require.NoError(t, db.Create(&models.Company{ID: 2, Name: "100% Sport"}).Error)

	// "_" and "%" are literal characters in the fragment, not wildcards.
	got, err := models.FindCompaniesByNameSubstring(ctx, db, "A_C")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = models.FindCompaniesByNameSubstring(ctx, db, "100%")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 2, got[0].ID)

	require.NoError(t, db.Create(&models.Company{ID: 3, Name: "A_C Holding"}).Error)
	got, err = models.FindCompaniesByNameSubstring(ctx, db, "A_C")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 3, got[0].ID)
}
