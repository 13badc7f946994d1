package domain

// SOP class and transfer syntax names, as reported alongside instance
// metadata. Unknown UIDs resolve to themselves.
var sopClassNames = map[string]string{
	"1.2.840.10008.5.1.4.1.1.1":     "Computed Radiography Image Storage",
	"1.2.840.10008.5.1.4.1.1.1.1":   "Digital X-Ray Image Storage - For Presentation",
	"1.2.840.10008.5.1.4.1.1.1.2":   "Digital Mammography X-Ray Image Storage - For Presentation",
	"1.2.840.10008.5.1.4.1.1.2":     "CT Image Storage",
	"1.2.840.10008.5.1.4.1.1.2.1":   "Enhanced CT Image Storage",
	"1.2.840.10008.5.1.4.1.1.4":     "MR Image Storage",
	"1.2.840.10008.5.1.4.1.1.4.1":   "Enhanced MR Image Storage",
	"1.2.840.10008.5.1.4.1.1.6.1":   "Ultrasound Image Storage",
	"1.2.840.10008.5.1.4.1.1.7":     "Secondary Capture Image Storage",
	"1.2.840.10008.5.1.4.1.1.12.1":  "X-Ray Angiographic Image Storage",
	"1.2.840.10008.5.1.4.1.1.20":    "Nuclear Medicine Image Storage",
	"1.2.840.10008.5.1.4.1.1.88.22": "Enhanced SR",
	"1.2.840.10008.5.1.4.1.1.88.67": "X-Ray Radiation Dose SR",
	"1.2.840.10008.5.1.4.1.1.104.1": "Encapsulated PDF Storage",
	"1.2.840.10008.5.1.4.1.1.128":   "Positron Emission Tomography Image Storage",
	"1.2.840.10008.5.1.4.1.1.481.1": "RT Image Storage",
	"1.2.840.10008.5.1.4.1.1.481.2": "RT Dose Storage",
}

var transferSyntaxNames = map[string]string{
	"1.2.840.10008.1.2":      "Implicit VR Little Endian: Default Transfer Syntax for DICOM",
	"1.2.840.10008.1.2.1":    "Explicit VR Little Endian",
	"1.2.840.10008.1.2.1.99": "Deflated Explicit VR Little Endian",
	"1.2.840.10008.1.2.2":    "Explicit VR Big Endian",
	"1.2.840.10008.1.2.4.50": "JPEG Baseline (Process 1)",
	"1.2.840.10008.1.2.4.70": "JPEG Lossless, Non-Hierarchical, First-Order Prediction",
	"1.2.840.10008.1.2.4.80": "JPEG-LS Lossless Image Compression",
	"1.2.840.10008.1.2.4.90": "JPEG 2000 Image Compression (Lossless Only)",
	"1.2.840.10008.1.2.4.91": "JPEG 2000 Image Compression",
	"1.2.840.10008.1.2.5":    "RLE Lossless",
}

// SOPClassName resolves a SOP class UID to its name, or returns uid.
func SOPClassName(uid string) string {
	if name, ok := sopClassNames[uid]; ok {
		return name
	}
	return uid
}

// TransferSyntaxName resolves a transfer syntax UID to its name, or returns uid.
func TransferSyntaxName(uid string) string {
	if name, ok := transferSyntaxNames[uid]; ok {
		return name
	}
	return uid
}
