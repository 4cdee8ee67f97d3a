package domain

// IndexField describes one field of the occurrence index schema, used to
// validate export field lists and to resolve download column names.
type IndexField struct {
	Name         string `json:"name"`
	DataType     string `json:"dataType"`
	Indexed      bool   `json:"indexed"`
	Stored       bool   `json:"stored"`
	DownloadName string `json:"downloadName,omitempty"`
	Description  string `json:"description,omitempty"`
}
