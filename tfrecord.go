package yolodata

// TFRecord object detection specific functionality.

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
	protos "github.com/sensorable/yolodata/protos"
	log "github.com/sirupsen/logrus"
)

// TFRecordLabelMapFile is the name of the label map written next to the record files.
const TFRecordLabelMapFile = "label_map.pbtxt"

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// TFRecordAnnotatedFile defines the TFRecord annotation structure for a single file.
type TFRecordAnnotatedFile struct {
	Annotations TFFeatureMap
	FilePath    string
}

// TFRecordLabelID returns the label id of the class at classIndex. Id 0 is reserved for the
// background by the object detection API.
func TFRecordLabelID(classIndex int) int32 {
	return int32(classIndex + 1)
}

// toTFRecord converts the intermediate representation for a single file to the TFRecord format.
// Regions with a label not in classes are left out. Boxes are normalized by the annotated image
// size, which keeps them valid for resized images.
func toTFRecord(fileData AnnotatedFile, classes ClassList) (TFRecordAnnotatedFile, error) {
	if fileData.Width <= 0 || fileData.Height <= 0 {
		return TFRecordAnnotatedFile{}, fmt.Errorf("invalid annotated image size %dx%d",
			fileData.Width, fileData.Height)
	}

	// Get the stored image width, height and format.
	img, format, err := decodeImageConfig(fileData.FilePath)
	if err != nil {
		return TFRecordAnnotatedFile{}, fmt.Errorf("failed to decode the image metadata: %w", err)
	}

	imgData, err := os.ReadFile(fileData.FilePath)
	if err != nil {
		return TFRecordAnnotatedFile{}, fmt.Errorf("failed to read the image: %w", err)
	}

	// Prepare the feature map for the per file data.
	name := filepath.Base(fileData.FilePath)
	f := make(TFFeatureMap, 16)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = name
	f["image/source_id"] = name
	f["image/encoded"] = imgData
	f["image/format"] = format

	// Prepare the per label data.
	numLabels := len(fileData.Annotations)
	xmins := make([]float32, 0, numLabels)
	ymins := make([]float32, 0, numLabels)
	xmaxs := make([]float32, 0, numLabels)
	ymaxs := make([]float32, 0, numLabels)
	texts := make([]string, 0, numLabels)
	classIDs := make([]int64, 0, numLabels)
	w, h := float64(fileData.Width), float64(fileData.Height)
	for _, a := range fileData.Annotations {
		idx, ok := classes.Index(a.Label)
		if !ok {
			continue
		}
		if a.Err != nil {
			return TFRecordAnnotatedFile{}, a.Err
		}
		xmin, xmax, ymin, ymax := a.VOCBox()
		xmins = append(xmins, float32(xmin/w))
		ymins = append(ymins, float32(ymin/h))
		xmaxs = append(xmaxs, float32(xmax/w))
		ymaxs = append(ymaxs, float32(ymax/h))
		texts = append(texts, classes.Names[idx])
		classIDs = append(classIDs, int64(TFRecordLabelID(idx)))
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = texts
	f["image/object/class/label"] = classIDs

	return TFRecordAnnotatedFile{
		Annotations: f,
		FilePath:    fileData.FilePath,
	}, nil
}

// WriteCustomTFRecord works like WriteTFRecord, except that it allows for the TFFeatureMap to be
// customised.
//
// Before generating a tensorflow.Example from each AnnotatedFile, the source data and the default
// feature map are passed to customiseFeature, which may modify the map as long as all of its
// values can be converted to tensorflow.Feature.
func WriteCustomTFRecord(recordFilePath string, data []AnnotatedFile, classes ClassList,
	numShards int, customiseFeature func(f AnnotatedFile, m TFFeatureMap)) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}
	if len(data) == 0 {
		log.Printf("No examples for %q", recordFilePath)
		return nil
	}

	shardPath := func(idx int) string {
		if numShards == 1 {
			return recordFilePath
		}
		return fmt.Sprintf("%s-%05d-of-%05d", recordFilePath, idx, numShards)
	}

	var shardFile *os.File
	defer func() {
		if shardFile != nil {
			closeWithErrCheck(shardFile, &err)
		}
	}()
	shardSize := int(math.Ceil(float64(len(data)) / float64(numShards)))
	shardIdx := -1

	// Convert and serialise one data element at a time.
	for i, fileData := range data {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++
			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return err
				}
				shardFile = nil
			}

			path := shardPath(shardIdx)
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %w", path, err)
			}
			shardFile = f
		}

		tfFileData, err := toTFRecord(fileData, classes)
		if err != nil {
			log.WithField("file", fileData.FilePath).Warnf("Failed to convert: %v", err)
			continue
		}
		if customiseFeature != nil {
			customiseFeature(fileData, tfFileData.Annotations)
		}
		tfExample := example.New(tfFileData.Annotations)

		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			return fmt.Errorf("failed to write example for %q: %w", fileData.FilePath, err)
		}
	}

	return nil
}

// WriteTFRecord does a streaming conversion, serialisation and file write for the annotation data
// to one or more TFRecord files stored under recordFilePath (with suffixes added when numShards>1).
func WriteTFRecord(recordFilePath string, data []AnnotatedFile, classes ClassList,
	numShards int) error {
	return WriteCustomTFRecord(recordFilePath, data, classes, numShards, nil)
}

// ExportTFRecords writes the processed files of every split in report to <dir>/<split>.record,
// followed by the label map of classes.
func ExportTFRecords(dir string, report *Report, classes ClassList, numShards int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", dir, err)
	}

	for _, split := range report.Splits {
		data := report.ProcessedFiles(split)
		path := filepath.Join(dir, split+".record")
		if err := WriteTFRecord(path, data, classes, numShards); err != nil {
			return fmt.Errorf("failed to export split %q: %w", split, err)
		}
		log.Printf("Exported %d examples to %q", len(data), path)
	}

	return WriteTFRecordLabelMap(filepath.Join(dir, TFRecordLabelMapFile), classes)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// WriteTFRecordLabelMap writes the label map of classes in prototxt format to path.
func WriteTFRecordLabelMap(path string, classes ClassList) error {
	siLabelMap := &protos.StringIntLabelMap{}
	siLabelMap.Item = make([]*protos.StringIntLabelMapItem, 0, classes.Len())
	for i, name := range classes.Names {
		siLabelMap.Item = append(siLabelMap.Item, &protos.StringIntLabelMapItem{
			Name: proto.String(name),
			Id:   proto.Int32(TFRecordLabelID(i)),
		})
	}

	err := writeFileAtomic(path, func(w io.Writer) error {
		return proto.MarshalText(w, siLabelMap)
	})
	if err != nil {
		return fmt.Errorf("failed to write the label map %q: %w", path, err)
	}
	return nil
}

// LoadTFRecordLabelMap loads the label map from path.
//
// If an error occurs because the file does not exist, then errors.Is(err, fs.ErrNotExist) holds.
func LoadTFRecordLabelMap(path string) (map[string]int32, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var siLabelMap protos.StringIntLabelMap
	if err := proto.UnmarshalText(string(text), &siLabelMap); err != nil {
		return nil, fmt.Errorf("failed to parse the label map %q: %w", path, err)
	}

	labelMap := make(map[string]int32, len(siLabelMap.Item))
	for _, item := range siLabelMap.Item {
		k, v := item.GetName(), item.GetId()
		if k == "" || v <= 0 {
			return nil, fmt.Errorf("invalid entry: %s: %d", k, v)
		}
		labelMap[k] = v
	}

	return labelMap, nil
}
