package reading

import (
	"math"
	"testing"

	"lumina/pkg/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestZoomStepsAndBounds(t *testing.T) {
	if got := ZoomIn(0.6); !almostEqual(got, 0.8) {
		t.Fatalf("ZoomIn(0.6) = %v", got)
	}
	if got := ZoomOut(0.6); !almostEqual(got, 0.4) {
		t.Fatalf("ZoomOut(0.6) = %v", got)
	}
	if got := ZoomIn(domain.MaxZoom); got != domain.MaxZoom {
		t.Fatalf("ZoomIn at max = %v", got)
	}
	if got := ZoomIn(3.4); got != domain.MaxZoom {
		t.Fatalf("ZoomIn(3.4) = %v, want capped at %v", got, domain.MaxZoom)
	}
	if got := ZoomOut(domain.MinZoom); got != domain.MinZoom {
		t.Fatalf("ZoomOut at min = %v", got)
	}
}

func TestClampZoom(t *testing.T) {
	if got := ClampZoom(0); got != domain.InitialModalZoom {
		t.Fatalf("ClampZoom(0) = %v, want initial default", got)
	}
	if got := ClampZoom(99); got != domain.MaxZoom {
		t.Fatalf("ClampZoom(99) = %v", got)
	}
	if got := ClampZoom(1.2); got != 1.2 {
		t.Fatalf("ClampZoom(1.2) = %v", got)
	}
}

func TestFitScalePreviewClamped(t *testing.T) {
	// Narrow viewport over a wide page dips below the preview floor.
	if got := FitScale(100, 1000, false); got != domain.MinPreviewFitScale {
		t.Fatalf("narrow preview scale = %v", got)
	}
	// Wide viewport over a narrow page is capped.
	if got := FitScale(5000, 600, false); got != domain.MaxPreviewFitScale {
		t.Fatalf("wide preview scale = %v", got)
	}
	// In-range ratios pass through.
	if got := FitScale(612, 612, false); !almostEqual(got, 1) {
		t.Fatalf("unit preview scale = %v", got)
	}
}

func TestFitScaleModalUnclamped(t *testing.T) {
	if got := FitScale(5000, 600, true); !almostEqual(got, 5000.0/600.0) {
		t.Fatalf("modal scale = %v", got)
	}
	if got := FitScale(0, 600, true); got != 1 {
		t.Fatalf("invalid viewport scale = %v, want 1", got)
	}
}

func TestModalScaleAppliesUserZoom(t *testing.T) {
	got := ModalScale(1224, 612, 0.6)
	if !almostEqual(got, 1.2) {
		t.Fatalf("ModalScale = %v, want 1.2", got)
	}
}

func TestClampPage(t *testing.T) {
	if got := ClampPage(0, 10); got != 1 {
		t.Fatalf("ClampPage(0,10) = %d", got)
	}
	if got := ClampPage(11, 10); got != 10 {
		t.Fatalf("ClampPage(11,10) = %d", got)
	}
	if got := ClampPage(5, 0); got != 1 {
		t.Fatalf("ClampPage(5,0) = %d", got)
	}
	if got := ClampPage(3, 10); got != 3 {
		t.Fatalf("ClampPage(3,10) = %d", got)
	}
}
