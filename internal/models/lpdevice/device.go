package lpdevice

import (
	"regexp"
	"strings"
)

const (
	UnknownBrowser = "Navegador desconhecido"
	UnknownOS      = "Sistema operacional desconhecido"
	UnknownBrand   = "Marca desconhecida"
)

type Device struct {
	Mobile  bool   `json:"movel"`
	Browser string `json:"navegador"`
	OS      string `json:"sistema_operacional"`
	Brand   string `json:"marca_dispositivo"`
}

type rule struct {
	name    string
	pattern *regexp.Regexp
}

var mobileKeywords = []string{
	"mobile", "android", "iphone", "ipod", "ipad", "blackberry",
	"windows phone", "opera mini", "iemobile", "tablet", "kindle",
}

// l'ordre compte, la première règle qui correspond gagne
var (
	browsers = []rule{
		{"Chrome", regexp.MustCompile(`(?i)chrome`)},
		{"Edge", regexp.MustCompile(`(?i)edge`)},
		{"Safari", regexp.MustCompile(`(?i)safari`)},
		{"Firefox", regexp.MustCompile(`(?i)firefox`)},
		{"Opera", regexp.MustCompile(`(?i)opera|OPR`)},
		{"IE", regexp.MustCompile(`(?i)msie|trident`)},
	}
	systems = []rule{
		{"Windows", regexp.MustCompile(`(?i)windows|win32|win64`)},
		{"macOS", regexp.MustCompile(`(?i)macintosh|mac os x`)},
		{"iOS", regexp.MustCompile(`(?i)iphone|ipad|ipod`)},
		{"Android", regexp.MustCompile(`(?i)android`)},
		{"Linux", regexp.MustCompile(`(?i)linux`)},
		{"Unix", regexp.MustCompile(`(?i)unix`)},
	}
	brands = []rule{
		{"Apple", regexp.MustCompile(`(?i)iphone|ipad|ipod|macintosh`)},
		{"Samsung", regexp.MustCompile(`(?i)samsung`)},
		{"Huawei", regexp.MustCompile(`(?i)huawei`)},
		{"Xiaomi", regexp.MustCompile(`(?i)xiaomi|redmi`)},
		{"Motorola", regexp.MustCompile(`(?i)motorola|moto`)},
		{"LG", regexp.MustCompile(`(?i)lg`)},
		{"Sony", regexp.MustCompile(`(?i)sony`)},
		{"Asus", regexp.MustCompile(`(?i)asus`)},
		{"OnePlus", regexp.MustCompile(`(?i)oneplus`)},
		{"Nokia", regexp.MustCompile(`(?i)nokia`)},
		{"HP", regexp.MustCompile(`(?i)hp`)},
		{"Dell", regexp.MustCompile(`(?i)dell`)},
		{"Lenovo", regexp.MustCompile(`(?i)lenovo`)},
		{"Acer", regexp.MustCompile(`(?i)acer`)},
	}
)

// Detect classe un User-Agent. Un UA vide donne les valeurs inconnues.
func Detect(userAgent string) Device {
	return Device{
		Mobile:  IsMobile(userAgent),
		Browser: match(browsers, userAgent, UnknownBrowser),
		OS:      match(systems, userAgent, UnknownOS),
		Brand:   match(brands, userAgent, UnknownBrand),
	}
}

func IsMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, keyword := range mobileKeywords {
		if strings.Contains(ua, keyword) {
			return true
		}
	}
	return false
}

func match(rules []rule, userAgent, fallback string) string {
	if userAgent == "" {
		return fallback
	}
	for _, r := range rules {
		if r.pattern.MatchString(userAgent) {
			return r.name
		}
	}
	return fallback
}
