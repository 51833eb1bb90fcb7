// Package location resolves report locations against eBird hotspots using
// region-scoped fuzzy name matching, with a persistent assignment cache.
package location

// provinceToRegionCode maps full administrative division names to eBird
// region codes. Taiwan, Hong Kong and Macau are country-level codes in
// eBird's hierarchy, unlike mainland provinces.
var provinceToRegionCode = map[string]string{
	"北京市":      "CN-11",
	"天津市":      "CN-12",
	"河北省":      "CN-13",
	"山西省":      "CN-14",
	"内蒙古自治区":   "CN-15",
	"辽宁省":      "CN-21",
	"吉林省":      "CN-22",
	"黑龙江省":     "CN-23",
	"上海市":      "CN-31",
	"江苏省":      "CN-32",
	"浙江省":      "CN-33",
	"安徽省":      "CN-34",
	"福建省":      "CN-35",
	"江西省":      "CN-36",
	"山东省":      "CN-37",
	"河南省":      "CN-41",
	"湖北省":      "CN-42",
	"湖南省":      "CN-43",
	"广东省":      "CN-44",
	"广西壮族自治区":  "CN-45",
	"海南省":      "CN-46",
	"重庆市":      "CN-50",
	"四川省":      "CN-51",
	"贵州省":      "CN-52",
	"云南省":      "CN-53",
	"西藏自治区":    "CN-54",
	"陕西省":      "CN-61",
	"甘肃省":      "CN-62",
	"青海省":      "CN-63",
	"宁夏回族自治区":  "CN-64",
	"新疆维吾尔自治区": "CN-65",
	"台湾省":      "TW",
	"香港特别行政区":  "HK",
	"澳门特别行政区":  "MO",
}

// provinceAbbreviations expands the short names that appear in user input
// and mapping rules to full administrative division names.
var provinceAbbreviations = map[string]string{
	"北京":  "北京市",
	"天津":  "天津市",
	"河北":  "河北省",
	"山西":  "山西省",
	"内蒙古": "内蒙古自治区",
	"辽宁":  "辽宁省",
	"吉林":  "吉林省",
	"黑龙江": "黑龙江省",
	"上海":  "上海市",
	"江苏":  "江苏省",
	"浙江":  "浙江省",
	"安徽":  "安徽省",
	"福建":  "福建省",
	"江西":  "江西省",
	"山东":  "山东省",
	"河南":  "河南省",
	"湖北":  "湖北省",
	"湖南":  "湖南省",
	"广东":  "广东省",
	"广西":  "广西壮族自治区",
	"海南":  "海南省",
	"重庆":  "重庆市",
	"四川":  "四川省",
	"贵州":  "贵州省",
	"云南":  "云南省",
	"西藏":  "西藏自治区",
	"陕西":  "陕西省",
	"甘肃":  "甘肃省",
	"青海":  "青海省",
	"宁夏":  "宁夏回族自治区",
	"新疆":  "新疆维吾尔自治区",
	"台湾":  "台湾省",
	"香港":  "香港特别行政区",
	"澳门":  "澳门特别行政区",
}

// ExpandProvince normalizes a province name or abbreviation to its full
// administrative division name. Unknown input is returned unchanged.
func ExpandProvince(name string) string {
	if _, ok := provinceToRegionCode[name]; ok {
		return name
	}
	if full, ok := provinceAbbreviations[name]; ok {
		return full
	}
	return name
}

// RegionCode returns the eBird region code for a province name or
// abbreviation. The second return value is false for unknown provinces.
func RegionCode(province string) (string, bool) {
	code, ok := provinceToRegionCode[ExpandProvince(province)]
	return code, ok
}

// ProvinceNames returns all known full province names.
func ProvinceNames() []string {
	names := make([]string, 0, len(provinceToRegionCode))
	for name := range provinceToRegionCode {
		names = append(names, name)
	}
	return names
}
