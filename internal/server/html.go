package server

// indexHTML is the embedded control page. The score is engraved in the
// browser by OpenSheetMusicDisplay; downloads come from the API.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>HumScore</title>
<script src="https://cdn.jsdelivr.net/npm/opensheetmusicdisplay@1.8.4/build/opensheetmusicdisplay.min.js"></script>
<style>
  body { font-family: sans-serif; max-width: 720px; margin: 2em auto; padding: 0 1em; }
  h1 { font-size: 1.4em; }
  button { font-size: 1em; padding: 0.5em 1.2em; margin-right: 0.5em; }
  button:disabled { opacity: 0.4; }
  #elapsed { font-variant-numeric: tabular-nums; font-size: 1.6em; margin-left: 0.5em; }
  #status { margin: 1em 0; color: #444; min-height: 1.2em; }
  #score { border: 1px solid #ddd; min-height: 120px; margin-top: 1em; }
  #downloads a { margin-right: 1em; }
</style>
</head>
<body>
<h1>HumScore</h1>
<div>
  <button id="record">Record</button>
  <button id="stop">Stop</button>
  <button id="transcribe">Transcribe</button>
  <button id="reset">Reset</button>
  <span id="elapsed">00:00</span>
</div>
<div id="status"></div>
<div id="downloads" hidden>
  <a href="/api/download/midi">Download MIDI</a>
  <a href="/api/download/musicxml">Download MusicXML</a>
</div>
<div id="score"></div>
<script>
const osmd = new opensheetmusicdisplay.OpenSheetMusicDisplay("score", { autoResize: true });
const el = id => document.getElementById(id);

function apply(snap) {
  el("elapsed").textContent = snap.elapsed_display;
  el("status").textContent = snap.status;
  const c = snap.controls;
  el("record").disabled = !c.can_record;
  el("stop").disabled = !c.can_stop;
  el("transcribe").disabled = !c.can_transcribe;
  el("reset").disabled = !c.can_reset;
  el("downloads").hidden = !snap.has_result;
}

function call(path) {
  fetch(path, { method: "POST" })
    .then(r => r.json())
    .then(r => { if (!r.success) el("status").textContent = r.message; })
    .catch(e => { el("status").textContent = "Request failed: " + e; });
}

el("record").onclick = () => call("/api/record/start");
el("stop").onclick = () => call("/api/record/stop");
el("transcribe").onclick = () => call("/api/transcribe");
el("reset").onclick = () => { osmd.clear(); call("/api/reset"); };

function connect() {
  const proto = location.protocol === "https:" ? "wss" : "ws";
  const ws = new WebSocket(proto + "://" + location.host + "/ws");
  ws.onmessage = ev => {
    const msg = JSON.parse(ev.data);
    if (msg.type === "snapshot") apply(msg.snapshot);
    if (msg.type === "score") osmd.load(msg.musicxml).then(() => osmd.render());
  };
  ws.onclose = () => setTimeout(connect, 2000);
}
connect();
</script>
</body>
</html>
`
