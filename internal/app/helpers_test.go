package app

import "github.com/joseph-ayodele/imagetext/internal/pipeline"

func pipelineUpload() pipeline.Upload {
	return pipeline.Upload{Filename: "receipt.png", ContentType: "image/png", Body: []byte("png-bytes")}
}
