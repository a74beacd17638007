// Package ocr integrates a remote OCR service for image and scanned-PDF
// text recognition.
//
// The engine is an HTTP service that accepts an uploaded file and returns
// recognized text with an aggregate confidence score. Multi-page inputs
// carry a page hint so the service rasterizes only the requested page.
package ocr
