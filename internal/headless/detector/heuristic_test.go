package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := sourcing.FetchResponse{
		StatusCode: 200,
		Body:       []byte(""),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := sourcing.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<div id="__next"></div>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := sourcing.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := sourcing.FetchResponse{
		StatusCode: 404,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ListingMarkersWin(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := sourcing.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<div id="__next"><li class="s-item"><h3 class="s-item__title">Phone</h3></li></div>`),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_AliExpressRunParams(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	resp := sourcing.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><script>window.runParams = {};</script><div>loading</div></body></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}
