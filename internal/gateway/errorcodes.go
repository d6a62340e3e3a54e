package gateway

import "strings"

const (
	// GenericFailureMessage is used when neither the code table nor the bank text says anything useful.
	GenericFailureMessage = "Ödeme işlemi başarısız oldu."

	// CustomerMessage is the only decline text ever shown to customers.
	CustomerMessage = "Ödemeniz gerçekleştirilemedi. Lütfen kart bilgilerinizi kontrol ederek tekrar deneyin."
)

// declineCodes maps bank return codes (numeric codes left-padded to four digits)
// and 3-D status codes (MD prefix) to operator diagnostics.
var declineCodes = map[string]string{
	"0001": "Bankanızı arayın (kartı veren bankadan provizyon alınmalı).",
	"0002": "Bankanızı arayın (özel durum).",
	"0003": "Geçersiz üye işyeri.",
	"0004": "Karta el koyunuz.",
	"0005": "Yetersiz limit veya kart kullanıma kapalı (işlem onaylanmadı).",
	"0006": "İşlem kabul edilmedi.",
	"0007": "Karta el koyunuz (özel durum).",
	"0012": "Geçersiz işlem.",
	"0013": "Geçersiz tutar.",
	"0014": "Geçersiz kart numarası.",
	"0015": "Kartı veren banka bulunamadı.",
	"0030": "Mesaj format hatası.",
	"0033": "Kartın son kullanma tarihi geçmiş; karta el koyunuz.",
	"0041": "Kayıp kart; karta el koyunuz.",
	"0043": "Çalıntı kart; karta el koyunuz.",
	"0051": "Yetersiz bakiye veya limit.",
	"0054": "Kartın son kullanma tarihi geçmiş.",
	"0055": "Hatalı kart şifresi.",
	"0057": "Kart sahibine bu işlem için izin verilmiyor.",
	"0058": "Üye işyerinin bu işlemi yapmaya yetkisi yok.",
	"0061": "Günlük para çekme limiti aşıldı.",
	"0062": "Kısıtlı kart.",
	"0065": "Günlük işlem adedi limiti aşıldı.",
	"0075": "Şifre deneme sayısı aşıldı.",
	"0082": "Hatalı CVV veya son kullanma tarihi.",
	"0091": "Kartı veren bankaya ulaşılamıyor.",
	"0092": "Banka yönlendirme hatası.",
	"0093": "Yasal nedenlerle işlem tamamlanamıyor.",
	"0096": "Banka sistem arızası.",
	"0099": "Genel hata; tekrar deneyin.",

	"MD0": "3-D doğrulama başarısız veya kart sahibi tarafından reddedildi.",
	"MD2": "Kart veya kartı veren banka 3-D sistemine kayıtlı değil.",
	"MD3": "Kartı veren banka 3-D sistemine kayıtlı değil.",
	"MD4": "3-D doğrulama denemesi; kart sahibi sisteme kayıt olmamış.",
	"MD5": "3-D doğrulama yapılamıyor.",
	"MD6": "3-D Secure hatası.",
	"MD7": "3-D sistem hatası.",
	"MD8": "Bilinmeyen kart numarası.",
}

// Translate turns a decline code and the bank's free text into an operator diagnostic.
// A known code always wins. Otherwise the bank text is used unless it is generic boilerplate.
func Translate(code, gatewayMessage string, generic bool) string {
	if msg, ok := declineCodes[normalizeCode(code)]; ok {
		return msg
	}

	gatewayMessage = strings.TrimSpace(gatewayMessage)
	if gatewayMessage != "" && !generic {
		return gatewayMessage
	}
	return GenericFailureMessage
}

// normalizeCode pads purely numeric codes so "05" and "0005" are the same code.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) >= 4 {
		return code
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return code
		}
	}
	return strings.Repeat("0", 4-len(code)) + code
}
