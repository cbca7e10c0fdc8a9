package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecyb/daynight-tracking/internal/models"
)

func TestRecordVisitCounts(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := RecordVisit(ctx, "p1", "v1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := RecordVisit(ctx, "p2", "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, got, "visits are counted per project")
}

func TestWidgetImpressionsKeepConversion(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	shown := base.UTC()

	require.NoError(t, SaveWidgetImpression(ctx, models.WidgetImpression{
		ProjectID: "p1", VisitorID: "v1", WidgetID: "offer",
		LastShown: shown, LastSessionID: "s1", Views: 1,
	}))
	require.NoError(t, SaveWidgetInteraction(ctx, models.WidgetInteraction{
		ProjectID: "p1", VisitorID: "v1", SessionID: "s1", WidgetID: "offer",
		InteractionType: models.InteractionSubmit, Data: `{"email":"x"}`,
	}))
	// A later display must not clear the conversion.
	require.NoError(t, SaveWidgetImpression(ctx, models.WidgetImpression{
		ProjectID: "p1", VisitorID: "v1", WidgetID: "offer",
		LastShown: shown.Add(time.Hour), LastSessionID: "s2", Views: 2,
	}))

	rows, err := GetWidgetImpressions(ctx, "p1", "v1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Views)
	assert.Equal(t, "s2", rows[0].LastSessionID)
	assert.True(t, rows[0].LastShown.Equal(shown.Add(time.Hour)))
	assert.True(t, rows[0].Converted)

	others, err := GetWidgetImpressions(ctx, "p1", "v2")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestWidgetInteractionConvertsUnseenWidget(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	require.NoError(t, SaveWidgetInteraction(ctx, models.WidgetInteraction{
		ProjectID: "p1", VisitorID: "v1", WidgetID: "chat", InteractionType: models.InteractionClick,
	}))
	require.NoError(t, SaveWidgetInteraction(ctx, models.WidgetInteraction{
		ProjectID: "p1", VisitorID: "v1", WidgetID: "banner", InteractionType: models.InteractionClose,
	}))

	rows, err := GetWidgetImpressions(ctx, "p1", "v1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "closing a widget is not a conversion")
	assert.Equal(t, "chat", rows[0].WidgetID)
	assert.True(t, rows[0].Converted)
	assert.Zero(t, rows[0].Views)
}

func TestGetWidgetStats(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	for _, in := range []struct{ widget, typ string }{
		{"chat", models.InteractionView},
		{"chat", models.InteractionView},
		{"chat", models.InteractionClick},
		{"offer", models.InteractionClose},
	} {
		require.NoError(t, SaveWidgetInteraction(ctx, models.WidgetInteraction{
			ProjectID: "p1", SessionID: "s1", WidgetID: in.widget, InteractionType: in.typ,
		}))
	}

	stats, err := GetWidgetStats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []WidgetStat{
		{WidgetID: "chat", InteractionType: "click", Count: 1},
		{WidgetID: "chat", InteractionType: "view", Count: 2},
		{WidgetID: "offer", InteractionType: "close", Count: 1},
	}, stats)
}
