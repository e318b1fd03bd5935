package yolo

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultClasses COCO 80 类，配置文件中没有类别列表时使用
var DefaultClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich",
	"orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// maxClassID names 映射允许的类别编号上限
const maxClassID = 10000

// LoadClasses 从YAML文件加载类别列表。
// 支持 `classes: [...]`，以及训练数据集常用的 `names: [...]` 或 `names: {0: a, 1: b}`。
func LoadClasses(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取类别文件失败")
	}
	return parseClasses(data)
}

func parseClasses(data []byte) ([]string, error) {
	var doc struct {
		Classes []string  `yaml:"classes"`
		Names   yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "解析类别文件失败")
	}
	if len(doc.Classes) > 0 {
		return doc.Classes, nil
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, errors.Wrap(err, "解析 names 列表失败")
		}
		if len(names) > 0 {
			return names, nil
		}
	case yaml.MappingNode:
		var byID map[int]string
		if err := doc.Names.Decode(&byID); err != nil {
			return nil, errors.Wrap(err, "解析 names 映射失败")
		}
		ids := make([]int, 0, len(byID))
		for id := range byID {
			if id < 0 || id >= maxClassID {
				return nil, errors.Errorf("类别编号 %d 超出范围 [0, %d)", id, maxClassID)
			}
			ids = append(ids, id)
		}
		sort.Ints(ids)
		if len(ids) > 0 {
			names := make([]string, ids[len(ids)-1]+1)
			for _, id := range ids {
				names[id] = byID[id]
			}
			return names, nil
		}
	}

	return nil, errors.New("配置文件中没有找到类别列表")
}
