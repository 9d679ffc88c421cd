// Package reading holds the pure viewer-state rules: page clamping, zoom
// stepping and the fit-to-width scale calculations used by both the preview
// pane and the full reading modal.
package reading

import "lumina/pkg/domain"

// ZoomIn steps the modal zoom up, capped at the maximum.
func ZoomIn(current float64) float64 {
	next := current + domain.ZoomStep
	if next > domain.MaxZoom {
		return domain.MaxZoom
	}
	return next
}

// ZoomOut steps the modal zoom down, floored at the minimum.
func ZoomOut(current float64) float64 {
	next := current - domain.ZoomStep
	if next < domain.MinZoom {
		return domain.MinZoom
	}
	return next
}

// ClampZoom forces a stored zoom into the valid range, falling back to the
// initial zoom for non-positive input.
func ClampZoom(zoom float64) float64 {
	if zoom <= 0 {
		return domain.InitialModalZoom
	}
	if zoom < domain.MinZoom {
		return domain.MinZoom
	}
	if zoom > domain.MaxZoom {
		return domain.MaxZoom
	}
	return zoom
}

// FitScale computes the fit-to-width base scale for a page. The preview pane
// clamps the result so extreme viewport/page ratios stay readable; the modal
// viewer uses the raw ratio. Invalid dimensions yield scale 1.
func FitScale(viewportWidth, pageWidth float64, modal bool) float64 {
	if viewportWidth <= 0 || pageWidth <= 0 {
		return 1
	}
	base := viewportWidth / pageWidth
	if modal {
		return base
	}
	if base < domain.MinPreviewFitScale {
		return domain.MinPreviewFitScale
	}
	if base > domain.MaxPreviewFitScale {
		return domain.MaxPreviewFitScale
	}
	return base
}

// ModalScale is the effective modal render scale: fit-to-width times the
// user's zoom factor.
func ModalScale(viewportWidth, pageWidth, userZoom float64) float64 {
	return FitScale(viewportWidth, pageWidth, true) * ClampZoom(userZoom)
}

// ClampPage keeps a page number within [1, numPages]. A non-positive
// numPages is treated as a single-page document.
func ClampPage(page, numPages int) int {
	if numPages < 1 {
		numPages = 1
	}
	if page < 1 {
		return 1
	}
	if page > numPages {
		return numPages
	}
	return page
}
