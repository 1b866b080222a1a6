package enrich

import "lanwatch/internal/domain"

// LocalVendor resolves a MAC against the hardcoded prefix table only.
// Returns "" for uncommon prefixes; callers wanting the full tier chain
// go through Enricher.LookupVendor.
func LocalVendor(mac string) string {
	return commonOUIs[domain.OUI(mac)]
}

// commonOUIs resolves frequent vendor prefixes without touching the
// database or the network. Keys are lowercase colon-separated prefixes.
var commonOUIs = map[string]string{
	"00:0c:29": "VMware, Inc.",
	"00:50:56": "VMware, Inc.",
	"08:00:27": "Oracle Corporation (VirtualBox)",
	"00:1c:c3": "Huawei Technologies",
	"00:25:9c": "Cisco Systems",
	"3c:5a:b4": "Google, Inc.",
	"d8:3b:bf": "Apple, Inc.",
	"f0:18:98": "Apple, Inc.",
	"00:03:93": "Apple, Inc.",
	"00:05:02": "Apple, Inc.",
	"00:0a:27": "Apple, Inc.",
	"00:0d:93": "Apple, Inc.",
	"00:10:fa": "Apple, Inc.",
	"00:11:24": "Apple, Inc.",
	"00:14:51": "Apple, Inc.",
	"00:16:cb": "Apple, Inc.",
	"b8:27:eb": "Raspberry Pi Foundation",
	"dc:a6:32": "Raspberry Pi Foundation",
	"e4:5f:01": "Raspberry Pi Foundation",
	"00:15:5d": "Microsoft Corporation (Hyper-V)",
	"00:1a:2b": "Casio Computer Co., Ltd.",
	"00:1a:11": "Google, Inc.",
	"f4:f5:d8": "Google, Inc.",
	"00:50:ba": "D-Link Corporation",
	"00:0d:88": "D-Link Corporation",
	"00:1e:58": "D-Link Corporation",
	"00:21:91": "D-Link Corporation",
	"00:14:d1": "TP-Link Technologies",
	"00:19:e0": "TP-Link Technologies",
	"00:23:cd": "TP-Link Technologies",
	"00:27:19": "TP-Link Technologies",
	"bc:d1:d3": "TP-Link Technologies",
	"c0:25:a5": "TP-Link Technologies",
	"c0:4a:00": "TP-Link Technologies",
	"8c:ae:4c": "ASUSTek Computer Inc.",
	"ac:22:0b": "ASUSTek Computer Inc.",
	"ac:9e:17": "ASUSTek Computer Inc.",
	"b0:6e:bf": "ASUSTek Computer Inc.",
	"bc:ee:7b": "ASUSTek Computer Inc.",
	"00:16:3e": "Xensource, Inc (Xen)",
	"00:1e:67": "Intel Corporation",
	"00:21:6a": "Intel Corporation",
	"00:23:4d": "Intel Corporation",
	"00:24:d7": "Intel Corporation",
	"00:26:c7": "Intel Corporation",
	"b4:b5:b6": "Samsung Electronics",
	"b4:b6:76": "Samsung Electronics",
	"b8:c6:8e": "Samsung Electronics",
	"bc:72:b1": "Samsung Electronics",
	"cc:07:ab": "Samsung Electronics",
	"dc:e0:64": "Samsung Electronics",
	"00:0c:f1": "Intel Corporation",
	"00:1b:21": "Intel Corporation",
	"fc:db:b3": "Amazon Technologies (Echo/Kindle)",
	"00:bb:3a": "Amazon Technologies",
	"0c:47:c9": "Amazon Technologies",
	"30:d1:7e": "Amazon Technologies",
	"34:d2:70": "Amazon Technologies",
	"44:65:0d": "Amazon Technologies",
	"50:dc:e7": "Amazon Technologies",
}
